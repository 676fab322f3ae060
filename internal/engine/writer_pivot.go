package engine

import (
	"context"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/store"
)

// pivotKey names the per-item map of join-row attributes in a
// belongs_to_many payload: {"id": 3, "pivot": {"weight": 2}}.
const pivotKey = "pivot"

// pivotItem is one belongs_to_many payload item with its pivot attributes
// split off.
type pivotItem struct {
	resolved
	pivot    ir.IRObject
	explicit bool
}

// syncPivot makes the owner's join rows exactly the payload items: missing
// pairs are detached, new ones attached, and kept pairs whose item carries a
// pivot map get their attributes replaced.
//
// Every item is resolved and checked before the join table is touched, so a
// rejected item leaves the association as it was.
func (op *operation) syncPivot(ctx context.Context, s site, payload ir.IRValue) (ChangeReport, error) {
	var report ChangeReport
	items, ok := payload.(ir.IRArray)
	if !ok {
		return report, op.fail(s, CodeMalformedPayload, payload, nil, "%s expects a list, got %s", s.rel.Path(), ir.TypeName(payload))
	}
	related, err := op.eng.reg.Type(s.rel.Related)
	if err != nil {
		return report, err
	}

	bare := make(ir.IRArray, len(items))
	pivots := make([]ir.IRObject, len(items))
	explicit := make([]bool, len(items))
	for i, item := range items {
		if bare[i], pivots[i], explicit[i], err = op.splitPivot(s.at(i), item); err != nil {
			return report, err
		}
	}

	var (
		wanted   []pivotItem
		desired  []ir.Key
		children []*ir.Entity
	)
	for _, i := range coalesce(bare, staticKey(related)) {
		at := s.at(i)
		r, err := op.resolve(ctx, at, bare[i])
		if err != nil {
			return report, err
		}
		if r.isNew {
			if _, err := op.fill(ctx, r.entity, r.attrs, s.depth+1, at.path); err != nil {
				return report, err
			}
			report.Created = append(report.Created, r.entity.Key)
		} else if _, err := op.modify(ctx, at, r); err != nil {
			return report, err
		}
		wanted = append(wanted, pivotItem{resolved: r, pivot: pivots[i], explicit: explicit[i]})
		desired = append(desired, r.entity.Key)
		children = append(children, r.entity)
	}

	rows, err := op.eng.store.PivotRows(ctx, s.rel, s.owner.Key)
	if err != nil {
		return report, op.storeError(s, nil, err)
	}
	current := make([]ir.Key, len(rows))
	attrsOf := make(map[ir.Key]ir.IRObject, len(rows))
	for i, row := range rows {
		current[i] = row.RelatedKey
		attrsOf[row.RelatedKey] = row.Attributes
	}
	diff := DiffKeys(current, desired)
	adding := keySet(diff.Add)
	keeping := keySet(diff.Keep)

	if err := op.eng.store.DetachPivot(ctx, s.rel, s.owner.Key, diff.Remove); err != nil {
		return report, op.storeError(s, nil, err)
	}
	for _, w := range wanted {
		key := w.entity.Key
		switch {
		case adding[key]:
			if err := op.eng.store.AttachPivot(ctx, s.rel, s.owner.Key, key, w.pivot); err != nil {
				return report, op.storeError(s, w.entity, err)
			}
		case keeping[key] && w.explicit && !ir.SameAttributes(attrsOf[key], w.pivot):
			if err := op.eng.store.UpdatePivot(ctx, s.rel, s.owner.Key, key, w.pivot); err != nil {
				return report, op.storeError(s, w.entity, err)
			}
			report.Updated = append(report.Updated, key)
		}
	}

	report.Attached = diff.Add
	report.Detached = diff.Remove
	s.owner.SetRelated(s.rel.Name, children)
	return report, nil
}

// splitPivot separates the pivot map from a payload item. Null pivot values
// are dropped, since an absent column and a NULL column read back the same.
func (op *operation) splitPivot(s site, item ir.IRValue) (ir.IRValue, ir.IRObject, bool, error) {
	m, ok := item.(ir.IRObject)
	if !ok {
		return item, ir.IRObject{}, false, nil
	}
	raw, ok := m[pivotKey]
	if !ok {
		return item, ir.IRObject{}, false, nil
	}

	attrs := ir.IRObject{}
	switch p := raw.(type) {
	case ir.IRNull:
	case ir.IRObject:
		for _, col := range p.SortedKeys() {
			if _, known := s.rel.Pivot.Columns[col]; !known {
				return nil, nil, false, op.fail(s, CodeMalformedPayload, p, store.ErrUnknownColumn,
					"pivot %s has no column %q", s.rel.Pivot.Table, col)
			}
			if !isNull(p[col]) {
				attrs[col] = p[col]
			}
		}
	default:
		return nil, nil, false, op.fail(s, CodeMalformedPayload, raw, nil,
			"%s must be an object, got %s", pivotKey, ir.TypeName(raw))
	}

	rest := m.Without(pivotKey)
	if len(rest) == 0 {
		return nil, nil, false, op.fail(s, CodeMalformedPayload, m, nil, "%s item has pivot attributes but no %s", s.rel.Path(), s.rel.Related)
	}
	return rest, attrs, true, nil
}
