package engine

import (
	"context"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// resolved is a payload item turned into an entity.
type resolved struct {
	entity *ir.Entity
	// attrs holds what is left of a map item after identity resolution:
	// own fields and nested relation payloads still to be filled.
	attrs ir.IRObject
	// isNew marks an entity that is not persisted yet.
	isNew bool
}

// resolve turns one relation payload item into an entity of the related
// type:
//   - an *ir.Entity is returned unchanged;
//   - a scalar is a key, looked up with FindByKey;
//   - a map with a non-blank key column is looked up the same way;
//   - a map without one is resolved per relation kind (see resolveMap).
//
// Nothing is written here. Applying remaining attributes is the writer's
// call, since it depends on ownership.
func (op *operation) resolve(ctx context.Context, s site, item ir.IRValue) (resolved, error) {
	related, err := op.eng.reg.Type(s.rel.Related)
	if err != nil {
		return resolved{}, err
	}

	switch v := item.(type) {
	case *ir.Entity:
		if !op.eng.reg.IsA(v.Type, related.Name) {
			return resolved{}, op.fail(s, CodeMalformedPayload, v, nil, "%s is not a %s", v, related.Name)
		}
		if !v.Exists() && !owned(s.rel) {
			return resolved{}, op.fail(s, CodeMalformedPayload, v, nil, "%s must reference a persisted %s", s.rel.Path(), related.Name)
		}
		return resolved{entity: v, isNew: !v.Exists()}, nil
	case ir.IRInt, ir.IRString:
		key, ok := ir.AsKey(v)
		if !ok {
			return resolved{}, op.fail(s, CodeMalformedPayload, v, nil, "%s is not a valid %s key", ir.Describe(v), related.Name)
		}
		ent, err := op.find(ctx, s, related, key, v)
		if err != nil {
			return resolved{}, err
		}
		return resolved{entity: ent}, nil
	case ir.IRObject:
		return op.resolveMap(ctx, s, related, v)
	default:
		return resolved{}, op.fail(s, CodeMalformedPayload, item, nil, "expected a key, an entity or an object, got %s", ir.TypeName(item))
	}
}

// resolveMap resolves a map item. Without an identity key:
//   - belongs_to looks the row up by the map's own fields, never creating
//     one, since the owner does not own the target's lifecycle;
//   - has_one and has_many create a new child;
//   - belongs_to_many creates a new row only with deep modification.
func (op *operation) resolveMap(ctx context.Context, s site, related *schema.EntityType, m ir.IRObject) (resolved, error) {
	if id, ok := m[related.KeyColumn]; ok && !ir.IsBlank(id) {
		key, isKey := ir.AsKey(id)
		if !isKey {
			return resolved{}, op.fail(s, CodeMalformedPayload, id, nil, "%s is not a valid %s key", ir.Describe(id), related.Name)
		}
		ent, err := op.find(ctx, s, related, key, m)
		if err != nil {
			return resolved{}, err
		}
		return resolved{entity: ent, attrs: m.Without(related.KeyColumn)}, nil
	}

	attrs := m.Without(related.KeyColumn)
	concrete, err := op.eng.reg.ResolveConcreteType(related.Name, attrs)
	if err != nil {
		return resolved{}, op.fail(s, CodeMalformedPayload, m, err, "%v", err)
	}

	switch s.rel.Kind {
	case schema.KindBelongsTo:
		criteria, nested := Split(concrete, attrs)
		if len(criteria) == 0 {
			return resolved{}, op.fail(s, CodeMalformedPayload, m, nil, "cannot look up a %s without a key or criteria", related.Name)
		}
		ent, err := op.eng.store.FindByCriteria(ctx, concrete, criteria)
		if err != nil {
			return resolved{}, op.storeError(s, m, err)
		}
		return resolved{entity: ent, attrs: nested.Object()}, nil
	case schema.KindBelongsToMany:
		if !s.rel.AllowDeepModification {
			return resolved{}, op.fail(s, CodeDeepModificationForbidden, m, nil, "%s does not allow creating %s rows", s.rel.Path(), related.Name)
		}
	}
	return resolved{entity: ir.NewEntity(concrete.Name), attrs: attrs, isNew: true}, nil
}

func (op *operation) find(ctx context.Context, s site, t *schema.EntityType, key ir.Key, ref ir.IRValue) (*ir.Entity, error) {
	ent, err := op.eng.store.FindByKey(ctx, t, key)
	if err != nil {
		return nil, op.storeError(s, ref, err)
	}
	return ent, nil
}

// modify applies the remaining attributes of a found entity the owner does
// not own (belongs_to, belongs_to_many). Without deep modification own
// fields of the reference are ignored and nested relation payloads are
// rejected. It reports whether the related row changed.
func (op *operation) modify(ctx context.Context, s site, r resolved) (bool, error) {
	if len(r.attrs) == 0 {
		return false, nil
	}
	if !s.rel.AllowDeepModification {
		t, err := op.eng.reg.Type(r.entity.Type)
		if err != nil {
			return false, err
		}
		if _, nested := Split(t, r.attrs); nested.Len() > 0 {
			return false, op.fail(s, CodeDeepModificationForbidden, r.attrs, nil,
				"%s does not allow nested writes into %s (relations: %v)", s.rel.Path(), r.entity, nested.Names())
		}
		return false, nil
	}
	out, err := op.fill(ctx, r.entity, r.attrs, s.depth+1, s.path)
	return out.updated, err
}

// staticKey returns the identity of an item when it is known without a
// lookup, for coalescing duplicates.
func staticKey(related *schema.EntityType) func(ir.IRValue) (ir.Key, bool) {
	return func(v ir.IRValue) (ir.Key, bool) {
		switch val := v.(type) {
		case *ir.Entity:
			if val.Exists() {
				return val.Key, true
			}
		case ir.IRInt, ir.IRString:
			return ir.AsKey(val)
		case ir.IRObject:
			if id, ok := val[related.KeyColumn]; ok {
				return ir.AsKey(id)
			}
		}
		return ir.NoKey, false
	}
}

// hasIdentity reports whether a map item names its key.
func hasIdentity(m ir.IRObject, related *schema.EntityType) bool {
	id, ok := m[related.KeyColumn]
	return ok && !ir.IsBlank(id)
}

// owned reports whether the related rows live and die with the owner.
func owned(rel *schema.Relation) bool {
	return rel.Kind == schema.KindHasOne || rel.Kind == schema.KindHasMany
}
