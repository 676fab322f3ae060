package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/testutil"
)

const reviewSchema = `package relfill

entity: User: {
	table: "users"
	fields: { name: string }
}

entity: Post: {
	table: "posts"
	fields: { title: string }
	relations: [
		{ name: "reviewer", kind: "belongs_to", related: "User", fillable: false },
		{ name: "comments", kind: "has_many", related: "Comment" },
	]
}

entity: Comment: {
	table: "comments"
	fields: { body: string }
}
`

func newReviewEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	reg, err := schema.CompileString("review.cue", reviewSchema)
	require.NoError(t, err)
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "review.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, reg, WithOperationIDs(testutil.NewSequentialIDs("op"))), s
}

func TestSplit_GuardedRelationStaysWithOwnFields(t *testing.T) {
	eng, _ := newReviewEngine(t)
	post := testutil.MustType(t, eng.Registry(), "Post")

	own, rels := Split(post, ir.IRObject{
		"title":    ir.IRString("t"),
		"reviewer": ir.IRInt(1),
		"comments": ir.IRArray{},
	})

	assert.Equal(t, ir.IRObject{"title": ir.IRString("t"), "reviewer": ir.IRInt(1)}, own)
	assert.Equal(t, []string{"comments"}, rels.Names())
}

func TestFill_GuardedRelationRejected(t *testing.T) {
	eng, s := newReviewEngine(t)
	ctx := context.Background()
	_, err := s.Create(ctx, testutil.MustType(t, eng.Registry(), "User"), ir.IRObject{"name": ir.IRString("rev")})
	require.NoError(t, err)

	for _, payload := range []string{
		`{"title": "p", "reviewer": 1}`,
		`{"title": "p", "reviewer": {"name": "rev"}}`,
		`{"title": "p", "reviewer": null}`,
	} {
		_, err := eng.Create(ctx, "Post", payloadOf(t, payload))
		require.Error(t, err, payload)
		assert.Equal(t, CodeUnknownRelation, CodeOf(err), payload)
		assert.ErrorIs(t, err, schema.ErrUnknownRelation, payload)
		assert.Contains(t, err.Error(), "not fillable", payload)
	}
}

func TestFill_GuardedRelationStillReadable(t *testing.T) {
	eng, s := newReviewEngine(t)
	ctx := context.Background()
	_, err := s.Create(ctx, testutil.MustType(t, eng.Registry(), "User"), ir.IRObject{"name": ir.IRString("rev")})
	require.NoError(t, err)

	res, err := eng.Create(ctx, "Post", payloadOf(t, `{"title": "p", "reviewer_id": 1, "comments": [{"body": "c"}]}`))
	require.NoError(t, err)

	r, ok := res.Report("Post.comments")
	require.True(t, ok)
	assert.Equal(t, keys(1), r.Created)

	reviewer, err := eng.RelatedKeys(ctx, res.Entity, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, keys(1), reviewer)
}
