package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/testutil"
)

// seedTags creates a post and tags 1..n, attaching the given tags to it.
func (f *fixture) seedTags(n int, attached ...int64) *ir.Entity {
	f.t.Helper()
	post := f.create("Post", ir.IRObject{"title": ir.IRString("p")})
	for i := 1; i <= n; i++ {
		f.create("Tag", ir.IRObject{"name": ir.IRString("tag" + string(rune('0'+i)))})
	}
	rel := testutil.MustRelation(f.t, f.store.Registry(), "Post", "tags")
	for _, k := range attached {
		require.NoError(f.t, f.store.AttachPivot(f.ctx, rel, post.Key, ir.Key(k), ir.IRObject{}))
	}
	return post
}

func relatedKeysOf(rows []ir.PivotRow) []ir.Key {
	out := make([]ir.Key, len(rows))
	for i, r := range rows {
		out[i] = r.RelatedKey
	}
	return out
}

func TestSyncPivot_AttachDetach(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(4, 1, 2, 3)

	res := f.mustFill(post, `{"tags": [2, 3, 4]}`)

	r, _ := res.Report("Post.tags")
	assert.Equal(t, keys(4), r.Attached)
	assert.Equal(t, keys(1), r.Detached)
	assert.Empty(t, r.Created)
	assert.Empty(t, r.Updated)
	assert.Equal(t, keys(2, 3, 4), relatedKeysOf(f.pivotRows("Post", "tags", post.Key)))
	assert.Equal(t, []string{"detach Post.tags", "attach Post.tags"}, f.rec.Writes())

	// Related rows are never deleted by a pivot sync.
	assert.True(t, f.exists("Tag", 1))
}

func TestSyncPivot_EmptyListDetachesAll(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(2, 1, 2)

	res := f.mustFill(post, `{"tags": []}`)

	r, _ := res.Report("Post.tags")
	assert.Equal(t, keys(1, 2), r.Detached)
	assert.Empty(t, f.pivotRows("Post", "tags", post.Key))
}

func TestSyncPivot_Attributes(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(2)

	f.mustFill(post, `{"tags": [{"id": 1, "pivot": {"weight": 3}}, 2]}`)
	rows := f.pivotRows("Post", "tags", post.Key)
	require.Len(t, rows, 2)
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(3)}, rows[0].Attributes)
	assert.Equal(t, ir.IRObject{}, rows[1].Attributes)

	res := f.mustFill(post, `{"tags": [{"id": 1, "pivot": {"weight": 7}}, {"id": 2}]}`)
	r, _ := res.Report("Post.tags")
	assert.Equal(t, keys(1), r.Updated)
	assert.Empty(t, r.Attached)
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(7)}, f.pivotRows("Post", "tags", post.Key)[0].Attributes)

	// Without a pivot map a kept row keeps its attributes.
	res = f.mustFill(post, `{"tags": [1, 2]}`)
	r, _ = res.Report("Post.tags")
	assert.True(t, r.Empty())
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(7)}, f.pivotRows("Post", "tags", post.Key)[0].Attributes)

	res = f.mustFill(post, `{"tags": [{"id": 1, "pivot": {"weight": null}}, 2]}`)
	r, _ = res.Report("Post.tags")
	assert.Equal(t, keys(1), r.Updated)
	assert.Equal(t, ir.IRObject{}, f.pivotRows("Post", "tags", post.Key)[0].Attributes)
}

func TestSyncPivot_DuplicatesCoalesced(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(2)

	res := f.mustFill(post, `{"tags": [1, {"id": 1, "pivot": {"weight": 9}}]}`)

	r, _ := res.Report("Post.tags")
	assert.Equal(t, keys(1), r.Attached)
	rows := f.pivotRows("Post", "tags", post.Key)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(9)}, rows[0].Attributes)
	assert.Equal(t, []string{"attach Post.tags"}, f.rec.Writes())

	// The last occurrence wins even when it is a bare key: the earlier
	// pivot map is dropped, so a kept row is left as stored and a new row
	// is attached without attributes.
	f.rec.Reset()
	res = f.mustFill(post, `{"tags": [{"id": 1, "pivot": {"weight": 5}}, 1, {"id": 2, "pivot": {"weight": 4}}, 2]}`)

	r, _ = res.Report("Post.tags")
	assert.Equal(t, keys(2), r.Attached)
	assert.Empty(t, r.Updated)
	rows = f.pivotRows("Post", "tags", post.Key)
	require.Len(t, rows, 2)
	assert.Equal(t, ir.IRObject{"weight": ir.IRInt(9)}, rows[0].Attributes)
	assert.Equal(t, ir.IRObject{}, rows[1].Attributes)
	assert.Equal(t, []string{"attach Post.tags"}, f.rec.Writes())
}

func TestSyncPivot_MalformedItems(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(2, 1)

	tests := []struct {
		name    string
		payload string
	}{
		{"unknown pivot column", `{"tags": [{"id": 2, "pivot": {"color": "red"}}]}`},
		{"pivot not an object", `{"tags": [{"id": 2, "pivot": 5}]}`},
		{"pivot without identity", `{"tags": [{"pivot": {"weight": 1}}]}`},
		{"not a list", `{"tags": 2}`},
		{"null", `{"tags": null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.rec.Reset()
			_, err := f.fill(post, tt.payload)
			require.Error(t, err)
			assert.Equal(t, CodeMalformedPayload, CodeOf(err), "error: %v", err)
		})
	}
	assert.Equal(t, keys(1), relatedKeysOf(f.pivotRows("Post", "tags", post.Key)))
}

func TestSyncPivot_UnknownPivotColumnWrapsStoreError(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(1)

	_, err := f.fill(post, `{"tags": [{"id": 1, "pivot": {"color": "red"}}]}`)

	assert.ErrorIs(t, err, store.ErrUnknownColumn)
	assert.Empty(t, f.rec.Writes())
}

func TestSyncPivot_DeepModificationForbidden(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(3, 2, 3)

	tests := []struct {
		name    string
		payload string
	}{
		{"create related row", `{"tags": [1, {"name": "brand new"}]}`},
		{"nested relation", `{"tags": [1, {"id": 2, "posts": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.rec.Reset()
			_, err := f.fill(post, tt.payload)
			require.Error(t, err)
			assert.Equal(t, CodeDeepModificationForbidden, CodeOf(err))
			assert.Empty(t, f.rec.Writes())
		})
	}
	assert.Equal(t, keys(2, 3), relatedKeysOf(f.pivotRows("Post", "tags", post.Key)))
	assert.False(t, f.exists("Tag", 4))
}

func TestSyncPivot_NotOwnedIgnoresOwnFields(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(1)

	f.mustFill(post, `{"tags": [{"id": 1, "name": "renamed"}]}`)

	assert.Equal(t, ir.IRString("tag1"), f.load("Tag", 1).Fields["name"])
	assert.Equal(t, keys(1), relatedKeysOf(f.pivotRows("Post", "tags", post.Key)))
}

func TestSyncPivot_DeepModificationAllowed(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(1)
	post := f.create("Post", ir.IRObject{"title": ir.IRString("p")})

	res := f.mustFill(post, `{"editors": [{"id": 1, "name": "chief"}, {"name": "guest"}]}`)

	r, _ := res.Report("Post.editors")
	assert.Equal(t, keys(2), r.Created)
	assert.Equal(t, keys(1, 2), r.Attached)
	assert.Empty(t, r.Updated)
	assert.Equal(t, ir.IRString("chief"), f.load("User", 1).Fields["name"])
	assert.Equal(t, ir.IRString("guest"), f.load("User", 2).Fields["name"])
	assert.Equal(t, keys(1, 2), f.related(post, "editors"))
}

func TestSyncPivot_InverseSide(t *testing.T) {
	f := newFixture(t)
	post := f.seedTags(1)
	f.create("Post", ir.IRObject{"title": ir.IRString("second")})
	tag := f.load("Tag", 1)

	res := f.mustFill(tag, `{"posts": [1, 2]}`)

	r, _ := res.Report("Tag.posts")
	assert.Equal(t, keys(1, 2), r.Attached)
	assert.Equal(t, keys(1), f.related(post, "tags"))
	assert.Equal(t, keys(1), relatedKeysOf(f.pivotRows("Post", "tags", 2)))
}
