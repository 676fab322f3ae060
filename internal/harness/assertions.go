package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // What was checked, e.g. "Post#1.tags"
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// AssertionContext provides database access for evaluating assertions.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Engine *engine.Engine
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRow:
			err = assertRow(actx, a)
		case AssertAbsent:
			err = assertAbsent(actx, a)
		case AssertRelatedKeys:
			err = assertRelatedKeys(actx, a)
		case AssertPivot:
			err = assertPivot(actx, a)
		case AssertRowCount:
			err = assertRowCount(actx, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func entityLabel(a Assertion) string {
	return fmt.Sprintf("%s#%d", a.Entity, a.Key)
}

func (actx *AssertionContext) load(a Assertion) (*ir.Entity, error) {
	t, err := actx.Store.Registry().Type(a.Entity)
	if err != nil {
		return nil, err
	}
	return actx.Store.FindByKey(actx.Ctx, t, ir.Key(a.Key))
}

// assertRow checks the stored columns of one entity, subset match.
func assertRow(actx *AssertionContext, a Assertion) error {
	ent, err := actx.load(a)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertRow,
			Subject:  entityLabel(a),
			Expected: "row to exist",
			Actual:   "row not found",
		}
	}
	if err != nil {
		return fmt.Errorf("row %s: %w", entityLabel(a), err)
	}

	expected, err := ir.ObjectFromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("row %s: expect: %w", entityLabel(a), err)
	}
	return compareFields(AssertRow, entityLabel(a), expected, ent.Fields)
}

// compareFields checks every expected field against actual. A missing
// actual field equals null.
func compareFields(typ, subject string, expected, actual ir.IRObject) error {
	for _, name := range expected.SortedKeys() {
		want := expected[name]
		got, ok := actual[name]
		if !ok {
			got = ir.IRNull{}
		}
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     typ,
				Subject:  subject,
				Expected: fmt.Sprintf("%s = %s", name, ir.Describe(want)),
				Actual:   fmt.Sprintf("%s = %s", name, ir.Describe(got)),
			}
		}
	}
	return nil
}

// assertAbsent checks that an entity no longer exists.
func assertAbsent(actx *AssertionContext, a Assertion) error {
	_, err := actx.load(a)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("absent %s: %w", entityLabel(a), err)
	default:
		return &AssertionError{
			Type:     AssertAbsent,
			Subject:  entityLabel(a),
			Expected: "no row",
			Actual:   "row exists",
		}
	}
}

// assertRelatedKeys compares the keys currently associated through a
// relation, ignoring order.
func assertRelatedKeys(actx *AssertionContext, a Assertion) error {
	subject := entityLabel(a) + "." + a.Relation
	keys, err := actx.Engine.RelatedKeys(actx.Ctx, ir.LoadedEntity(a.Entity, ir.Key(a.Key), nil), a.Relation)
	if err != nil {
		return fmt.Errorf("related_keys %s: %w", subject, err)
	}

	got := make([]int64, len(keys))
	for i, k := range keys {
		got[i] = int64(k)
	}
	slices.Sort(got)
	want := slices.Clone(a.Keys)
	slices.Sort(want)

	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertRelatedKeys,
			Subject:  subject,
			Expected: formatKeys(want),
			Actual:   formatKeys(got),
		}
	}
	return nil
}

// assertPivot checks that a join row exists and, subset match, its pivot
// attributes.
func assertPivot(actx *AssertionContext, a Assertion) error {
	subject := fmt.Sprintf("%s.%s[%d]", entityLabel(a), a.Relation, a.Related)
	rel, err := actx.Store.Registry().Describe(a.Entity, a.Relation)
	if err != nil {
		return fmt.Errorf("pivot %s: %w", subject, err)
	}
	if rel.Kind != schema.KindBelongsToMany {
		return fmt.Errorf("pivot %s: relation is %s, not belongs_to_many", subject, rel.Kind)
	}

	rows, err := actx.Store.PivotRows(actx.Ctx, rel, ir.Key(a.Key))
	if err != nil {
		return fmt.Errorf("pivot %s: %w", subject, err)
	}
	idx := slices.IndexFunc(rows, func(r ir.PivotRow) bool { return int64(r.RelatedKey) == a.Related })
	if idx < 0 {
		return &AssertionError{
			Type:     AssertPivot,
			Subject:  subject,
			Expected: "join row to exist",
			Actual:   "join row not found",
		}
	}

	expected, err := ir.ObjectFromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("pivot %s: expect: %w", subject, err)
	}
	return compareFields(AssertPivot, subject, expected, rows[idx].Attributes)
}

// assertRowCount counts every row of a table, join tables included.
//
// Security: the table name is validated against a whitelist pattern to
// prevent SQL injection via identifier interpolation.
func assertRowCount(actx *AssertionContext, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, a.Table)
	if err := actx.Store.DB().QueryRowContext(actx.Ctx, query).Scan(&n); err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Subject:  a.Table,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Subject:  a.Table,
			Expected: fmt.Sprintf("%d rows", *a.Count),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

// checkStep compares a step's outcome with its expect clause.
func checkStep(tr StepTrace, expect *ExpectClause, err error) []string {
	prefix := fmt.Sprintf("steps[%d] (%s)", tr.Index, tr.Op)
	wantErr := ""
	if expect != nil {
		wantErr = expect.Error
	}

	switch {
	case err != nil && wantErr == "":
		return []string{fmt.Sprintf("%s: unexpected error: %v", prefix, err)}
	case err == nil && wantErr != "":
		return []string{fmt.Sprintf("%s: expected error %s, step succeeded", prefix, wantErr)}
	case err != nil:
		if tr.Error != wantErr {
			return []string{fmt.Sprintf("%s: expected error %s, got %s: %v", prefix, wantErr, tr.Error, err)}
		}
		return nil
	case expect == nil:
		return nil
	}

	var msgs []string
	paths := make([]string, 0, len(expect.Reports))
	for p := range expect.Reports {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		want := expect.Reports[path]
		idx := slices.IndexFunc(tr.Reports, func(r engine.RelationReport) bool { return r.Path == path })
		if idx < 0 {
			msgs = append(msgs, fmt.Sprintf("%s: no report for %s", prefix, path))
			continue
		}
		got := tr.Reports[idx].Report
		for _, c := range []struct {
			name string
			want []int64
			got  []ir.Key
		}{
			{"attached", want.Attached, got.Attached},
			{"detached", want.Detached, got.Detached},
			{"created", want.Created, got.Created},
			{"updated", want.Updated, got.Updated},
		} {
			if c.want == nil {
				continue
			}
			w := slices.Clone(c.want)
			slices.Sort(w)
			g := toInt64s(c.got)
			if !slices.Equal(w, g) {
				msgs = append(msgs, fmt.Sprintf("%s: %s %s: expected %s, got %s", prefix, path, c.name, formatKeys(w), formatKeys(g)))
			}
		}
	}
	return msgs
}

func toInt64s(keys []ir.Key) []int64 {
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k)
	}
	return out
}

// formatKeys renders keys as "[1 2 3]".
func formatKeys(keys []int64) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(k)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
