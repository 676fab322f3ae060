package harness

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/testutil"
)

// newAssertionContext opens a blog store holding Post#1 titled "hello"
// with comment 1 and tags 1 (weight 3) and 2.
func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	ctx := context.Background()
	reg := testutil.BlogRegistry(t)
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "assert.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, name := range []string{"go", "db"} {
		_, err := st.Create(ctx, testutil.MustType(t, reg, "Tag"), ir.IRObject{"name": ir.IRString(name)})
		require.NoError(t, err)
	}
	eng := engine.New(st, reg)
	_, err = eng.Create(ctx, "Post", ir.IRObject{
		"title":    ir.IRString("hello"),
		"comments": ir.IRArray{ir.IRObject{"body": ir.IRString("c")}},
		"tags": ir.IRArray{
			ir.IRObject{"id": ir.IRInt(1), "pivot": ir.IRObject{"weight": ir.IRInt(3)}},
			ir.IRInt(2),
		},
	})
	require.NoError(t, err)
	return &AssertionContext{Ctx: ctx, Store: st, Engine: eng}
}

func intp(n int) *int { return &n }

func TestEvaluateAssertions_Pass(t *testing.T) {
	actx := newAssertionContext(t)

	msgs := EvaluateAssertions([]Assertion{
		{Type: AssertRow, Entity: "Post", Key: 1, Expect: map[string]any{"title": "hello", "views": nil}},
		{Type: AssertAbsent, Entity: "Post", Key: 2},
		{Type: AssertRelatedKeys, Entity: "Post", Key: 1, Relation: "tags", Keys: []int64{2, 1}},
		{Type: AssertRelatedKeys, Entity: "Post", Key: 1, Relation: "editors", Keys: []int64{}},
		{Type: AssertRelatedKeys, Entity: "Comment", Key: 1, Relation: "replies", Keys: []int64{}},
		{Type: AssertPivot, Entity: "Post", Key: 1, Relation: "tags", Related: 1, Expect: map[string]any{"weight": 3}},
		{Type: AssertPivot, Entity: "Post", Key: 1, Relation: "tags", Related: 2, Expect: map[string]any{"weight": nil}},
		{Type: AssertRowCount, Table: "post_tag", Count: intp(2)},
		{Type: AssertRowCount, Table: "comments", Count: intp(1)},
	}, actx)

	assert.Empty(t, msgs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	actx := newAssertionContext(t)

	tests := []struct {
		name      string
		assertion Assertion
		want      []string
	}{
		{
			name:      "row field mismatch",
			assertion: Assertion{Type: AssertRow, Entity: "Post", Key: 1, Expect: map[string]any{"title": "bye"}},
			want:      []string{"Assertion failed: row Post#1", "Expected: title = \"bye\"", "Actual: title = \"hello\""},
		},
		{
			name:      "row missing",
			assertion: Assertion{Type: AssertRow, Entity: "Post", Key: 5, Expect: map[string]any{"title": "x"}},
			want:      []string{"Actual: row not found"},
		},
		{
			name:      "absent but present",
			assertion: Assertion{Type: AssertAbsent, Entity: "Comment", Key: 1},
			want:      []string{"Assertion failed: absent Comment#1", "Actual: row exists"},
		},
		{
			name:      "related keys differ",
			assertion: Assertion{Type: AssertRelatedKeys, Entity: "Post", Key: 1, Relation: "tags", Keys: []int64{1}},
			want:      []string{"related_keys Post#1.tags", "Expected: [1]", "Actual: [1 2]"},
		},
		{
			name:      "related keys unknown relation",
			assertion: Assertion{Type: AssertRelatedKeys, Entity: "Post", Key: 1, Relation: "likes", Keys: []int64{}},
			want:      []string{"related_keys Post#1.likes", "UNKNOWN_RELATION"},
		},
		{
			name:      "pivot row missing",
			assertion: Assertion{Type: AssertPivot, Entity: "Post", Key: 1, Relation: "tags", Related: 9},
			want:      []string{"pivot Post#1.tags[9]", "join row not found"},
		},
		{
			name:      "pivot attribute mismatch",
			assertion: Assertion{Type: AssertPivot, Entity: "Post", Key: 1, Relation: "tags", Related: 1, Expect: map[string]any{"weight": 4}},
			want:      []string{"Expected: weight = 4", "Actual: weight = 3"},
		},
		{
			name:      "pivot on a non-pivot relation",
			assertion: Assertion{Type: AssertPivot, Entity: "Post", Key: 1, Relation: "comments", Related: 1},
			want:      []string{"not belongs_to_many"},
		},
		{
			name:      "row count mismatch",
			assertion: Assertion{Type: AssertRowCount, Table: "tags", Count: intp(5)},
			want:      []string{"Expected: 5 rows", "Actual: 2 rows"},
		},
		{
			name:      "row count unknown table",
			assertion: Assertion{Type: AssertRowCount, Table: "nope", Count: intp(0)},
			want:      []string{"query error"},
		},
		{
			name:      "row count injection",
			assertion: Assertion{Type: AssertRowCount, Table: "tags; DROP TABLE tags", Count: intp(0)},
			want:      []string{"invalid table name"},
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "final_state"},
			want:      []string{`unknown assertion type "final_state"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := EvaluateAssertions([]Assertion{tt.assertion}, actx)
			require.Len(t, msgs, 1)
			for _, w := range tt.want {
				assert.Contains(t, msgs[0], w)
			}
		})
	}
}

func TestCheckStep(t *testing.T) {
	ok := StepTrace{
		Index: 1,
		Op:    "fill Post#1",
		Reports: []engine.RelationReport{{
			Path:   "Post.tags",
			Report: engine.ChangeReport{Attached: []ir.Key{3}, Detached: []ir.Key{1}, Created: []ir.Key{}, Updated: []ir.Key{}},
		}},
	}
	failed := StepTrace{Index: 1, Op: "fill Post#1", Error: "NOT_FOUND"}
	notFound := &engine.Error{Code: engine.CodeNotFound, Message: "no Tag with key 9"}

	tests := []struct {
		name   string
		tr     StepTrace
		expect *ExpectClause
		err    error
		want   []string
	}{
		{name: "success without expect", tr: ok},
		{name: "failure expected", tr: failed, expect: &ExpectClause{Error: "NOT_FOUND"}, err: notFound},
		{
			name: "matching reports",
			tr:   ok,
			expect: &ExpectClause{Reports: map[string]ExpectedReport{
				"Post.tags": {Attached: []int64{3}, Detached: []int64{1}, Created: []int64{}},
			}},
		},
		{
			name: "unexpected failure",
			tr:   failed,
			err:  notFound,
			want: []string{"steps[1] (fill Post#1): unexpected error: NOT_FOUND: no Tag with key 9"},
		},
		{
			name:   "wrong code",
			tr:     failed,
			expect: &ExpectClause{Error: "AMBIGUOUS_MATCH"},
			err:    notFound,
			want:   []string{"steps[1] (fill Post#1): expected error AMBIGUOUS_MATCH, got NOT_FOUND: NOT_FOUND: no Tag with key 9"},
		},
		{
			name:   "store error label",
			tr:     StepTrace{Index: 0, Op: "create Post", Error: errorLabel(errors.New("disk I/O error"))},
			expect: &ExpectClause{Error: "NOT_FOUND"},
			err:    errors.New("disk I/O error"),
			want:   []string{"steps[0] (create Post): expected error NOT_FOUND, got STORE_ERROR: disk I/O error"},
		},
		{
			name: "report lists differ",
			tr:   ok,
			expect: &ExpectClause{Reports: map[string]ExpectedReport{
				"Post.tags": {Attached: []int64{3, 4}, Updated: []int64{1}},
			}},
			want: []string{
				"steps[1] (fill Post#1): Post.tags attached: expected [3 4], got [3]",
				"steps[1] (fill Post#1): Post.tags updated: expected [1], got []",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkStep(tt.tr, tt.expect, tt.err))
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertRow, Subject: "Post#1", Expected: "title = \"a\"", Actual: "title = \"b\""}

	assert.Equal(t, "Assertion failed: row Post#1\n  Expected: title = \"a\"\n  Actual: title = \"b\"\n", err.Error())
}

func TestFormatKeys(t *testing.T) {
	assert.Equal(t, "[]", formatKeys(nil))
	assert.Equal(t, "[1 2 10]", formatKeys([]int64{1, 2, 10}))
}
