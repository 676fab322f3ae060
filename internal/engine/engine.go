package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// Store is the persistence collaborator. *store.Store implements it.
//
// Lookups report a missing row with store.ErrNotFound and a non-unique
// criteria match with store.ErrAmbiguousMatch. Writes naming a column the
// type lacks fail with store.ErrUnknownColumn.
type Store interface {
	FindByKey(ctx context.Context, t *schema.EntityType, key ir.Key) (*ir.Entity, error)
	FindByCriteria(ctx context.Context, t *schema.EntityType, criteria ir.IRObject) (*ir.Entity, error)
	Create(ctx context.Context, t *schema.EntityType, fields ir.IRObject) (*ir.Entity, error)
	Save(ctx context.Context, e *ir.Entity) error
	DeleteByKeys(ctx context.Context, t *schema.EntityType, keys []ir.Key) error
	RelatedKeys(ctx context.Context, t *schema.EntityType, column string, value ir.IRValue) ([]ir.Key, error)
	PivotRows(ctx context.Context, rel *schema.Relation, parent ir.Key) ([]ir.PivotRow, error)
	AttachPivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error
	DetachPivot(ctx context.Context, rel *schema.Relation, parent ir.Key, related []ir.Key) error
	ClearPivot(ctx context.Context, rel *schema.Relation, column string, keys []ir.Key) error
	UpdatePivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error
}

// Engine reconciles stored entity graphs with nested attribute payloads.
//
// Thread-safety: an Engine holds no per-fill state and may be shared. Each
// Fill or Create runs synchronously to completion on the calling goroutine.
// The engine never opens transactions; bind it to a transaction-scoped
// store with WithStore to make a fill atomic.
type Engine struct {
	store    Store
	reg      *schema.Registry
	maxDepth int
	logger   *slog.Logger
	tracer   Tracer
	metrics  MetricsRecorder
	ids      OperationIDGenerator
	cycles   *CycleDetector
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth bounds how many relation levels a payload may nest.
// The root entity's relations are level 1.
//
// Default: 32 (DefaultMaxDepth). Values below 1 keep the default.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxDepth = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the span tracer. Default: no tracing.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder. Default: none.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithOperationIDs sets the operation ID generator.
// Default: UUIDv7Generator. Use FixedGenerator for reproducible tests.
//
// Every Fill and Create draws one ID, and the cycle guard keys its state by
// that ID, so g must not hand out the same ID twice. A FixedGenerator is
// good for exactly as many operations as it holds IDs; the next one panics.
func WithOperationIDs(g OperationIDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// New creates an Engine over s for the types in reg.
func New(s Store, reg *schema.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		reg:      reg,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
		tracer:   noopTracer{},
		metrics:  noopMetrics{},
		ids:      UUIDv7Generator{},
		cycles:   NewCycleDetector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithStore returns a copy of the engine bound to s, typically the
// transaction-scoped store passed to store.Store.InTx.
func (e *Engine) WithStore(s Store) *Engine {
	c := *e
	c.store = s
	return &c
}

// Registry returns the schema the engine fills against.
func (e *Engine) Registry() *schema.Registry {
	return e.reg
}

// Fill applies attrs to ent: own fields are assigned, every relation present
// in attrs is reconciled in declaration order, and ent is persisted.
//
// ent may be new (ir.NewEntity) or loaded from the store.
func (e *Engine) Fill(ctx context.Context, ent *ir.Entity, attrs ir.IRObject) (*Result, error) {
	return e.run(ctx, ent.Type, func(ctx context.Context, op *operation) (*ir.Entity, error) {
		_, err := op.fill(ctx, ent, attrs, 1, ent.Type)
		return ent, err
	})
}

// Create builds a new entity of typeName (or of the subtype its
// discriminator selects) and fills it with attrs.
func (e *Engine) Create(ctx context.Context, typeName string, attrs ir.IRObject) (*Result, error) {
	return e.run(ctx, typeName, func(ctx context.Context, op *operation) (*ir.Entity, error) {
		root := site{owner: ir.NewEntity(typeName), path: typeName}
		concrete, err := e.reg.ResolveConcreteType(typeName, attrs)
		if err != nil {
			return nil, op.fail(root, CodeMalformedPayload, nil, err, "%v", err)
		}
		ent := ir.NewEntity(concrete.Name)
		_, err = op.fill(ctx, ent, attrs, 1, concrete.Name)
		return ent, err
	})
}

// RelatedKeys re-reads the keys currently associated with ent through
// relation, in key order.
func (e *Engine) RelatedKeys(ctx context.Context, ent *ir.Entity, relation string) ([]ir.Key, error) {
	op := &operation{eng: e}
	rel, err := e.reg.Describe(ent.Type, relation)
	if err != nil {
		return nil, op.fail(site{owner: ent, path: ent.Type + "." + relation}, CodeUnknownRelation, nil, err, "%v", err)
	}
	s := site{owner: ent, rel: rel, path: rel.Path()}
	related, err := e.reg.Type(rel.Related)
	if err != nil {
		return nil, err
	}

	switch rel.Kind {
	case schema.KindBelongsTo:
		ownerType, _ := e.reg.Type(ent.Type)
		owner, err := e.store.FindByKey(ctx, ownerType, ent.Key)
		if err != nil {
			return nil, op.storeError(s, nil, err)
		}
		v, _ := owner.Get(rel.ForeignKeyColumn())
		if isNull(v) {
			return nil, nil
		}
		if rel.LocalKeyColumn() == related.KeyColumn {
			k, ok := ir.AsKey(v)
			if !ok {
				return nil, nil
			}
			return []ir.Key{k}, nil
		}
		target, err := e.store.FindByCriteria(ctx, related, ir.IRObject{rel.LocalKeyColumn(): v})
		if err != nil {
			return nil, op.storeError(s, v, err)
		}
		return []ir.Key{target.Key}, nil
	case schema.KindHasOne, schema.KindHasMany:
		parent, err := op.parentValue(s)
		if err != nil {
			return nil, err
		}
		keys, err := e.store.RelatedKeys(ctx, related, rel.ForeignKeyColumn(), parent)
		if err != nil {
			return nil, op.storeError(s, nil, err)
		}
		return keys, nil
	case schema.KindBelongsToMany:
		rows, err := e.store.PivotRows(ctx, rel, ent.Key)
		if err != nil {
			return nil, op.storeError(s, nil, err)
		}
		keys := make([]ir.Key, len(rows))
		for i, row := range rows {
			keys[i] = row.RelatedKey
		}
		return keys, nil
	default:
		return nil, op.fail(s, CodeUnsupportedRelationKind, nil, nil, "relation kind %s cannot be read", rel.Kind)
	}
}

func (e *Engine) run(ctx context.Context, typeName string, fn func(context.Context, *operation) (*ir.Entity, error)) (*Result, error) {
	op := &operation{eng: e, id: e.ids.Generate()}
	defer e.cycles.Clear(op.id)

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "relfill.fill",
		Attr{Key: "relfill.operation_id", Value: op.id},
		Attr{Key: "relfill.entity_type", Value: typeName},
	)
	ent, err := fn(ctx, op)
	span.End(err)
	elapsed := time.Since(start)
	e.metrics.FillCompleted(typeName, err, elapsed)

	if err != nil {
		e.logger.Warn("fill failed",
			"op", op.id,
			"type", typeName,
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("fill completed",
		"op", op.id,
		"type", ent.Type,
		"key", int64(ent.Key),
		"relations", len(op.reports),
		"duration", elapsed,
	)
	return &Result{Entity: ent, OperationID: op.id, Reports: op.reports}, nil
}
