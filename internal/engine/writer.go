package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
)

// associate writes a belongs_to relation by pointing the owner's foreign key
// at the resolved target. The owner is not saved here; the orchestrator
// persists the new key once every relation ran.
//
// A null payload clears the foreign key.
func (op *operation) associate(ctx context.Context, s site, payload ir.IRValue) (ChangeReport, error) {
	var report ChangeReport
	related, err := op.eng.reg.Type(s.rel.Related)
	if err != nil {
		return report, err
	}
	fk := s.rel.ForeignKeyColumn()
	current, _ := s.owner.Get(fk)
	previous, hadPrevious, err := op.targetKey(ctx, s, related, current)
	if err != nil {
		return report, err
	}

	if isNull(payload) {
		if !isNull(current) {
			s.owner.Set(fk, ir.IRNull{})
			if hadPrevious {
				report.Detached = []ir.Key{previous}
			}
		}
		s.owner.SetRelated(s.rel.Name, nil)
		return report, nil
	}
	if _, ok := payload.(ir.IRArray); ok {
		return report, op.fail(s, CodeMalformedPayload, payload, nil, "%s expects a single item, got a list", s.rel.Path())
	}

	r, err := op.resolve(ctx, s, payload)
	if err != nil {
		return report, err
	}
	changed, err := op.modify(ctx, s, r)
	if err != nil {
		return report, err
	}
	if changed {
		report.Updated = []ir.Key{r.entity.Key}
	}

	targetType, err := op.eng.reg.Type(r.entity.Type)
	if err != nil {
		return report, err
	}
	value := columnValue(r.entity, targetType, s.rel.LocalKeyColumn())
	if isNull(value) {
		return report, op.fail(s, CodeMalformedPayload, r.entity, nil, "%s has no value for %s", r.entity, s.rel.LocalKey)
	}
	if !ir.Equal(current, value) {
		s.owner.Set(fk, value)
		report.Attached = []ir.Key{r.entity.Key}
		if hadPrevious {
			report.Detached = []ir.Key{previous}
		}
	}
	s.owner.SetRelated(s.rel.Name, []*ir.Entity{r.entity})
	return report, nil
}

// targetKey returns the key of the row a belongs_to foreign key value points
// at. A dangling value reports no key.
func (op *operation) targetKey(ctx context.Context, s site, related *schema.EntityType, value ir.IRValue) (ir.Key, bool, error) {
	if isNull(value) {
		return ir.NoKey, false, nil
	}
	if s.rel.LocalKeyColumn() == related.KeyColumn {
		k, ok := ir.AsKey(value)
		return k, ok, nil
	}
	ent, err := op.eng.store.FindByCriteria(ctx, related, ir.IRObject{s.rel.LocalKeyColumn(): value})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ir.NoKey, false, nil
	case err != nil:
		return ir.NoKey, false, op.storeError(s, value, err)
	}
	return ent.Key, true, nil
}

// upsertOne writes a has_one relation. The target child is written first,
// then any other child still pointing at the owner is deleted.
//
// A map without a key updates the current child when there is one, and
// creates a child otherwise. A null payload deletes the current child.
func (op *operation) upsertOne(ctx context.Context, s site, payload ir.IRValue) (ChangeReport, error) {
	var report ChangeReport
	related, err := op.eng.reg.Type(s.rel.Related)
	if err != nil {
		return report, err
	}
	parent, err := op.parentValue(s)
	if err != nil {
		return report, err
	}
	current, err := op.eng.store.RelatedKeys(ctx, related, s.rel.ForeignKeyColumn(), parent)
	if err != nil {
		return report, op.storeError(s, nil, err)
	}

	if isNull(payload) {
		if err := op.deleteChildren(ctx, s, related, current); err != nil {
			return report, err
		}
		report.Detached = current
		s.owner.SetRelated(s.rel.Name, nil)
		return report, nil
	}
	if _, ok := payload.(ir.IRArray); ok {
		return report, op.fail(s, CodeMalformedPayload, payload, nil, "%s expects a single item, got a list", s.rel.Path())
	}

	var r resolved
	if m, ok := payload.(ir.IRObject); ok && !hasIdentity(m, related) && len(current) > 0 {
		existing, err := op.find(ctx, s, related, current[0], m)
		if err != nil {
			return report, err
		}
		r = resolved{entity: existing, attrs: m.Without(related.KeyColumn)}
	} else if r, err = op.resolve(ctx, s, payload); err != nil {
		return report, err
	}

	out, err := op.writeChild(ctx, s, r, parent)
	if err != nil {
		return report, err
	}
	key := r.entity.Key
	attached := !slices.Contains(current, key)
	switch {
	case out.created:
		report.Created = []ir.Key{key}
	case out.updated && !attached:
		report.Updated = []ir.Key{key}
	}
	if attached {
		report.Attached = []ir.Key{key}
	}

	var stale []ir.Key
	for _, k := range current {
		if k != key {
			stale = append(stale, k)
		}
	}
	if err := op.deleteChildren(ctx, s, related, stale, key); err != nil {
		return report, err
	}
	report.Detached = stale
	s.owner.SetRelated(s.rel.Name, []*ir.Entity{r.entity})
	return report, nil
}

// syncMany makes the owner's has_many children exactly the payload items.
// Items naming the same key are written once, with the last occurrence
// winning. Every item is written before orphans are deleted.
func (op *operation) syncMany(ctx context.Context, s site, payload ir.IRValue) (ChangeReport, error) {
	var report ChangeReport
	items, ok := payload.(ir.IRArray)
	if !ok {
		return report, op.fail(s, CodeMalformedPayload, payload, nil, "%s expects a list, got %s", s.rel.Path(), ir.TypeName(payload))
	}
	related, err := op.eng.reg.Type(s.rel.Related)
	if err != nil {
		return report, err
	}
	parent, err := op.parentValue(s)
	if err != nil {
		return report, err
	}
	current, err := op.eng.store.RelatedKeys(ctx, related, s.rel.ForeignKeyColumn(), parent)
	if err != nil {
		return report, op.storeError(s, nil, err)
	}

	var (
		desired  []ir.Key
		children []*ir.Entity
		changed  = make(map[ir.Key]bool)
	)
	for _, i := range coalesce(items, staticKey(related)) {
		at := s.at(i)
		r, err := op.resolve(ctx, at, items[i])
		if err != nil {
			return report, err
		}
		out, err := op.writeChild(ctx, at, r, parent)
		if err != nil {
			return report, err
		}
		key := r.entity.Key
		if out.created {
			report.Created = append(report.Created, key)
		} else if out.updated {
			changed[key] = true
		}
		desired = append(desired, key)
		children = append(children, r.entity)
	}

	diff := DiffKeys(current, desired)
	for _, k := range diff.Keep {
		if changed[k] {
			report.Updated = append(report.Updated, k)
		}
	}
	if err := op.deleteChildren(ctx, s, related, diff.Remove, desired...); err != nil {
		return report, err
	}
	report.Attached = diff.Add
	report.Detached = diff.Remove
	s.owner.SetRelated(s.rel.Name, children)
	return report, nil
}

// writeChild fills an owned child with its attributes and the owner's key.
func (op *operation) writeChild(ctx context.Context, s site, r resolved, parent ir.IRValue) (outcome, error) {
	attrs := r.attrs.Clone()
	attrs[s.rel.ForeignKeyColumn()] = parent
	return op.fill(ctx, r.entity, attrs, s.depth+1, s.path)
}

// deleteChildren hard-deletes owned children. What only exists through a
// child goes with it: its own has_one and has_many children, recursively,
// and every join row naming it on either side. Rows of related listed in
// keep were just written by the caller and survive even when a deleted
// child also reaches them.
func (op *operation) deleteChildren(ctx context.Context, s site, related *schema.EntityType, keys []ir.Key, keep ...ir.Key) error {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(keep))
	for _, k := range keep {
		seen[related.Table+"#"+k.String()] = true
	}
	if err := op.purge(ctx, related, keys, seen); err != nil {
		return op.storeError(s, nil, err)
	}
	return nil
}

// purge deletes the rows of t with keys after their dependents. seen holds
// the rows already scheduled, keyed by table and key.
func (op *operation) purge(ctx context.Context, t *schema.EntityType, keys []ir.Key, seen map[string]bool) error {
	var todo []ir.Key
	for _, k := range keys {
		id := t.Table + "#" + k.String()
		if !seen[id] {
			seen[id] = true
			todo = append(todo, k)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	for _, k := range todo {
		ent, err := op.eng.store.FindByKey(ctx, t, k)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		concrete, err := op.eng.reg.Type(ent.Type)
		if err != nil {
			return err
		}
		for _, rel := range concrete.Relations {
			switch rel.Kind {
			case schema.KindHasOne, schema.KindHasMany:
				child, err := op.eng.reg.Type(rel.Related)
				if err != nil {
					return err
				}
				parent := columnValue(ent, concrete, rel.LocalKeyColumn())
				if isNull(parent) {
					continue
				}
				children, err := op.eng.store.RelatedKeys(ctx, child, rel.ForeignKeyColumn(), parent)
				if err != nil {
					return err
				}
				if err := op.purge(ctx, child, children, seen); err != nil {
					return err
				}
			case schema.KindBelongsToMany:
				if err := op.eng.store.ClearPivot(ctx, rel, rel.Pivot.ForeignPivotColumn(), []ir.Key{k}); err != nil {
					return err
				}
			}
		}
	}

	for _, rel := range op.eng.reg.PivotRelationsTo(t.Table) {
		if err := op.eng.store.ClearPivot(ctx, rel, rel.Pivot.RelatedPivotColumn(), todo); err != nil {
			return err
		}
	}
	return op.eng.store.DeleteByKeys(ctx, t, todo)
}
