package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
)

// operation is the state of one Fill or Create call.
type operation struct {
	eng     *Engine
	id      string
	reports []RelationReport
}

// site locates a write: the owner entity, the relation being written (nil
// while assigning own fields), the path used in reports and errors, and the
// nesting level of the relation.
type site struct {
	owner *ir.Entity
	rel   *schema.Relation
	path  string
	depth int
}

// at returns the site of one item of a collection payload.
func (s site) at(i int) site {
	s.path = fmt.Sprintf("%s[%d]", s.path, i)
	return s
}

// outcome reports what a fill did to its entity's own row.
type outcome struct {
	created bool
	updated bool
}

// fill is the orchestrator: it assigns own fields, runs the writer of every
// relation present in attrs in declaration order, and persists ent. The
// owner is saved before the first relation that needs its key, and again at
// the end if anything (such as a belongs_to foreign key) left it dirty.
//
// depth is the nesting level of ent's relations; path addresses ent.
func (op *operation) fill(ctx context.Context, ent *ir.Entity, attrs ir.IRObject, depth int, path string) (outcome, error) {
	var out outcome
	here := site{owner: ent, path: path, depth: depth}

	t, err := op.entityType(here, ent, attrs)
	if err != nil {
		return out, err
	}
	own, rels := Split(t, attrs)
	if own, err = op.ownFields(here, t, ent, own); err != nil {
		return out, err
	}
	ent.Fill(own)

	for _, name := range rels.Names() {
		rel := t.Relation(name)
		if rel.Kind.RequiresParentKey() && (!ent.Exists() || ent.IsDirty()) {
			if err := op.save(ctx, here, ent, &out); err != nil {
				return out, err
			}
		}
		payload, _ := rels.Get(name)
		relSite := site{owner: ent, rel: rel, path: path + "." + name, depth: depth}
		if err := op.writeRelation(ctx, relSite, payload); err != nil {
			return out, err
		}
	}

	if !ent.Exists() || ent.IsDirty() {
		if err := op.save(ctx, here, ent, &out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// entityType returns the registered type of ent. A new entity whose
// attributes carry a discriminator value is narrowed to that subtype first,
// so the subtype's own relations are split off too.
func (op *operation) entityType(s site, ent *ir.Entity, attrs ir.IRObject) (*schema.EntityType, error) {
	t, err := op.eng.reg.Type(ent.Type)
	if err != nil {
		return nil, op.fail(s, CodeMalformedPayload, nil, err, "%v", err)
	}
	if t.Discriminator == "" || ent.Exists() {
		return t, nil
	}
	concrete, err := op.eng.reg.ResolveConcreteType(t.Name, attrs)
	if err != nil {
		return nil, op.fail(s, CodeMalformedPayload, attrs[t.Discriminator], err, "%v", err)
	}
	ent.Type = concrete.Name
	return concrete, nil
}

// ownFields checks the own fields of ent against t. The key column is never
// assigned, and the discriminator is owned by the store.
func (op *operation) ownFields(s site, t *schema.EntityType, ent *ir.Entity, own ir.IRObject) (ir.IRObject, error) {
	if v, ok := own[t.KeyColumn]; ok {
		if k, isKey := ir.AsKey(v); !ir.IsBlank(v) && (!isKey || k != ent.Key) {
			return nil, op.fail(s, CodeMalformedPayload, v, nil, "key column %q of %s cannot be assigned", t.KeyColumn, ent)
		}
		delete(own, t.KeyColumn)
	}

	if t.Discriminator != "" {
		if v, ok := own[t.Discriminator]; ok && ent.Exists() && !ir.IsBlank(v) {
			concrete, err := op.eng.reg.ResolveConcreteType(t.RootName(), own)
			if err != nil || concrete.Name != t.Name {
				return nil, op.fail(s, CodeMalformedPayload, v, err, "cannot change the stored type of %s", ent)
			}
		}
		delete(own, t.Discriminator)
	}

	names := make([]string, 0, len(own))
	for name := range own {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t.HasField(name) {
			continue
		}
		if rel := t.Relation(name); rel != nil {
			return nil, op.fail(s, CodeUnknownRelation, nil, schema.ErrUnknownRelation, "relation %q of %s is not fillable", name, t.Name)
		}
		switch own[name].(type) {
		case ir.IRObject, ir.IRArray:
			return nil, op.fail(s, CodeUnknownRelation, nil, schema.ErrUnknownRelation, "%s has no relation %q", t.Name, name)
		default:
			return nil, op.fail(s, CodeMalformedPayload, own[name], store.ErrUnknownColumn, "%s has no field %q", t.Name, name)
		}
	}
	return own, nil
}

func (op *operation) save(ctx context.Context, s site, ent *ir.Entity, out *outcome) error {
	switch {
	case !ent.Exists():
		out.created = true
	case ent.IsDirty() && !out.created:
		out.updated = true
	}
	if err := op.eng.store.Save(ctx, ent); err != nil {
		return op.storeError(s, nil, err)
	}
	return nil
}

// writeRelation guards and dispatches one relation write, then records its
// report.
func (op *operation) writeRelation(ctx context.Context, s site, payload ir.IRValue) error {
	if err := op.checkDepth(s); err != nil {
		return err
	}
	if !op.eng.cycles.Visit(op.id, s.owner, s.rel.Name) {
		return op.fail(s, CodeCycleDetected, nil, nil, "%s.%s is written twice in one operation", s.owner, s.rel.Name)
	}

	ctx, span := op.eng.tracer.Start(ctx, "relfill.relation",
		Attr{Key: "relfill.path", Value: s.path},
		Attr{Key: "relfill.kind", Value: s.rel.Kind.String()},
	)
	var report ChangeReport
	var err error
	switch s.rel.Kind {
	case schema.KindBelongsTo:
		report, err = op.associate(ctx, s, payload)
	case schema.KindHasOne:
		report, err = op.upsertOne(ctx, s, payload)
	case schema.KindHasMany:
		report, err = op.syncMany(ctx, s, payload)
	case schema.KindBelongsToMany:
		report, err = op.syncPivot(ctx, s, payload)
	default:
		err = op.fail(s, CodeUnsupportedRelationKind, nil, nil, "relation kind %s cannot be written", s.rel.Kind)
	}
	span.End(err)
	if err != nil {
		return err
	}

	report = report.normalize()
	op.reports = append(op.reports, RelationReport{
		Path:     s.path,
		Relation: s.rel.Name,
		Kind:     s.rel.Kind,
		Report:   report,
	})
	op.eng.metrics.RelationWritten(s.rel.Kind, report)
	op.eng.logger.Debug("relation written",
		"op", op.id,
		"path", s.path,
		"kind", s.rel.Kind.String(),
		"attached", len(report.Attached),
		"detached", len(report.Detached),
		"created", len(report.Created),
		"updated", len(report.Updated),
	)
	return nil
}

func (op *operation) fail(s site, code Code, ref ir.IRValue, cause error, format string, args ...any) *Error {
	e := &Error{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Relation:    s.path,
		OperationID: op.id,
		Err:         cause,
	}
	if s.owner != nil {
		e.EntityType = s.owner.Type
	}
	if ref != nil {
		e.Reference = ir.Describe(ref)
	}
	return e
}

// storeError classifies a store error. Lookup and column errors become fill
// errors; anything else (I/O, constraints) is wrapped and propagated as is.
func (op *operation) storeError(s site, ref ir.IRValue, err error) error {
	var fe *Error
	switch {
	case errors.As(err, &fe):
		return err
	case errors.Is(err, store.ErrNotFound):
		return op.fail(s, CodeNotFound, ref, err, "%v", err)
	case errors.Is(err, store.ErrAmbiguousMatch):
		return op.fail(s, CodeAmbiguousMatch, ref, err, "%v", err)
	case errors.Is(err, store.ErrUnknownColumn), errors.Is(err, store.ErrInvalidValue):
		return op.fail(s, CodeMalformedPayload, ref, err, "%v", err)
	default:
		return fmt.Errorf("%s: %w", s.path, err)
	}
}

// parentValue is the owner's local key value that has_one and has_many
// children store in their foreign key.
func (op *operation) parentValue(s site) (ir.IRValue, error) {
	t, err := op.eng.reg.Type(s.owner.Type)
	if err != nil {
		return nil, err
	}
	v := columnValue(s.owner, t, s.rel.LocalKeyColumn())
	if isNull(v) {
		return nil, op.fail(s, CodeMalformedPayload, nil, nil, "%s has no value for local key %s", s.owner, s.rel.LocalKey)
	}
	return v, nil
}

func columnValue(e *ir.Entity, t *schema.EntityType, column string) ir.IRValue {
	if column == t.KeyColumn {
		if !e.Exists() {
			return ir.IRNull{}
		}
		return ir.IRInt(e.Key)
	}
	if v, ok := e.Get(column); ok {
		return v
	}
	return ir.IRNull{}
}

func isNull(v ir.IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(ir.IRNull)
	return ok
}
