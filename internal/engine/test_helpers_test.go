package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/testutil"
)

var _ Store = (*store.Store)(nil)

// fixture bundles a blog-schema SQLite store with an engine over it.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	rec   *recordingStore
	eng   *Engine
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), testutil.BlogRegistry(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := setupTestStore(t)
	rec := &recordingStore{Store: s}
	opts = append([]Option{WithOperationIDs(testutil.NewSequentialIDs("op"))}, opts...)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: s,
		rec:   rec,
		eng:   New(rec, s.Registry(), opts...),
	}
}

func (f *fixture) typ(name string) *schema.EntityType {
	f.t.Helper()
	return testutil.MustType(f.t, f.store.Registry(), name)
}

// create inserts a row directly through the store.
func (f *fixture) create(typeName string, fields ir.IRObject) *ir.Entity {
	f.t.Helper()
	e, err := f.store.Create(f.ctx, f.typ(typeName), fields)
	require.NoError(f.t, err)
	return e
}

// load re-reads a row, so assertions see what the store holds.
func (f *fixture) load(typeName string, key ir.Key) *ir.Entity {
	f.t.Helper()
	e, err := f.store.FindByKey(f.ctx, f.typ(typeName), key)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) exists(typeName string, key ir.Key) bool {
	f.t.Helper()
	_, err := f.store.FindByKey(f.ctx, f.typ(typeName), key)
	if err != nil {
		require.ErrorIs(f.t, err, store.ErrNotFound)
		return false
	}
	return true
}

func (f *fixture) fill(ent *ir.Entity, payload string) (*Result, error) {
	f.t.Helper()
	return f.eng.Fill(f.ctx, ent, payloadOf(f.t, payload))
}

func (f *fixture) mustFill(ent *ir.Entity, payload string) *Result {
	f.t.Helper()
	res, err := f.fill(ent, payload)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) related(ent *ir.Entity, relation string) []ir.Key {
	f.t.Helper()
	keys, err := f.eng.RelatedKeys(f.ctx, ent, relation)
	require.NoError(f.t, err)
	return keys
}

func (f *fixture) pivotRows(typeName, relation string, parent ir.Key) []ir.PivotRow {
	f.t.Helper()
	rel := testutil.MustRelation(f.t, f.store.Registry(), typeName, relation)
	rows, err := f.store.PivotRows(f.ctx, rel, parent)
	require.NoError(f.t, err)
	return rows
}

// payloadOf parses a JSON attribute map.
func payloadOf(t *testing.T, js string) ir.IRObject {
	t.Helper()
	obj, err := ir.ParseObject([]byte(js))
	require.NoError(t, err)
	return obj
}

func keys(ks ...int64) []ir.Key {
	out := make([]ir.Key, len(ks))
	for i, k := range ks {
		out[i] = ir.Key(k)
	}
	return out
}

// recordingStore counts the writes that reach the store. Saves of clean
// entities and empty detaches are no-ops and are not counted.
type recordingStore struct {
	*store.Store

	mu     sync.Mutex
	writes []string
}

func (r *recordingStore) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, op)
}

func (r *recordingStore) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *recordingStore) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
}

func (r *recordingStore) Create(ctx context.Context, t *schema.EntityType, fields ir.IRObject) (*ir.Entity, error) {
	r.record("create " + t.Name)
	return r.Store.Create(ctx, t, fields)
}

func (r *recordingStore) Save(ctx context.Context, e *ir.Entity) error {
	switch {
	case !e.Exists():
		r.record("insert " + e.Type)
	case e.IsDirty():
		r.record("update " + e.String())
	}
	return r.Store.Save(ctx, e)
}

func (r *recordingStore) DeleteByKeys(ctx context.Context, t *schema.EntityType, ks []ir.Key) error {
	r.record("delete " + t.Name)
	return r.Store.DeleteByKeys(ctx, t, ks)
}

func (r *recordingStore) AttachPivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error {
	r.record("attach " + rel.Path())
	return r.Store.AttachPivot(ctx, rel, parent, related, attrs)
}

func (r *recordingStore) DetachPivot(ctx context.Context, rel *schema.Relation, parent ir.Key, related []ir.Key) error {
	if len(related) > 0 {
		r.record("detach " + rel.Path())
	}
	return r.Store.DetachPivot(ctx, rel, parent, related)
}

func (r *recordingStore) UpdatePivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error {
	r.record("update pivot " + rel.Path())
	return r.Store.UpdatePivot(ctx, rel, parent, related, attrs)
}

// recordingTracer keeps the name and outcome of every span.
type recordingTracer struct {
	mu    sync.Mutex
	spans []recordedSpan
}

type recordedSpan struct {
	name  string
	attrs map[string]string
	err   error
}

func (r *recordingTracer) Start(ctx context.Context, name string, attrs ...Attr) (context.Context, Span) {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return ctx, &recordingSpan{tracer: r, span: recordedSpan{name: name, attrs: m}}
}

type recordingSpan struct {
	tracer *recordingTracer
	span   recordedSpan
}

func (s *recordingSpan) End(err error) {
	s.span.err = err
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, s.span)
}

// recordingMetrics keeps every callback.
type recordingMetrics struct {
	mu        sync.Mutex
	fills     []error
	relations []schema.RelationKind
}

func (m *recordingMetrics) FillCompleted(_ string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, err)
}

func (m *recordingMetrics) RelationWritten(kind schema.RelationKind, _ ChangeReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations = append(m.relations, kind)
}
