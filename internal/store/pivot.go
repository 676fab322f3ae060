package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// AttachPivot inserts the join row (parent, related) of rel with attrs.
// Attaching a pair twice fails with ErrConstraint.
func (s *Store) AttachPivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error {
	p := rel.Pivot
	cols := []string{s.d.quote(p.ForeignPivotColumn()), s.d.quote(p.RelatedPivotColumn())}
	q := s.d.newQuery("INSERT INTO %s", s.d.quote(p.Table))
	marks := []string{q.arg(int64(parent)), q.arg(int64(related))}

	for _, col := range attrs.SortedKeys() {
		v, err := pivotArg(rel, col, attrs[col])
		if err != nil {
			return err
		}
		cols = append(cols, s.d.quote(col))
		marks = append(marks, q.arg(v))
	}
	q.write(" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")")

	if _, err := s.q.ExecContext(ctx, q.String(), q.args...); err != nil {
		return classify(fmt.Sprintf("attach %s %d→%d", rel.Path(), parent, related), err)
	}
	return nil
}

// DetachPivot deletes the join rows of rel from parent to each related key.
func (s *Store) DetachPivot(ctx context.Context, rel *schema.Relation, parent ir.Key, related []ir.Key) error {
	if len(related) == 0 {
		return nil
	}
	p := rel.Pivot
	q := s.d.newQuery("DELETE FROM %s WHERE %s = ", s.d.quote(p.Table), s.d.quote(p.ForeignPivotColumn()))
	q.write(q.arg(int64(parent)))
	q.write(" AND " + s.d.quote(p.RelatedPivotColumn()) + " IN (" + s.keyList(q, related) + ")")

	if _, err := s.q.ExecContext(ctx, q.String(), q.args...); err != nil {
		return classify("detach "+rel.Path(), err)
	}
	return nil
}

// ClearPivot deletes every join row of rel whose column holds one of keys.
// column is the owner or the related pivot column of rel.
func (s *Store) ClearPivot(ctx context.Context, rel *schema.Relation, column string, keys []ir.Key) error {
	if len(keys) == 0 {
		return nil
	}
	p := rel.Pivot
	if column != p.ForeignPivotColumn() && column != p.RelatedPivotColumn() {
		return fmt.Errorf("%w: %q is not a key column of pivot %s", ErrUnknownColumn, column, p.Table)
	}
	q := s.d.newQuery("DELETE FROM %s WHERE %s IN (", s.d.quote(p.Table), s.d.quote(column))
	q.write(s.keyList(q, keys) + ")")

	if _, err := s.q.ExecContext(ctx, q.String(), q.args...); err != nil {
		return classify("clear pivot "+p.Table, err)
	}
	return nil
}

// UpdatePivot replaces the pivot attributes of one join row. Every pivot
// column of rel is written; columns missing from attrs become NULL.
func (s *Store) UpdatePivot(ctx context.Context, rel *schema.Relation, parent, related ir.Key, attrs ir.IRObject) error {
	p := rel.Pivot
	for _, col := range attrs.SortedKeys() {
		if _, ok := p.Columns[col]; !ok {
			return fmt.Errorf("%w: pivot %s has no column %q", ErrUnknownColumn, p.Table, col)
		}
	}
	cols := p.ColumnNames()
	if len(cols) == 0 {
		return nil
	}

	q := s.d.newQuery("UPDATE %s SET ", s.d.quote(p.Table))
	for i, col := range cols {
		v, err := pivotArg(rel, col, attrs[col])
		if err != nil {
			return err
		}
		if i > 0 {
			q.write(", ")
		}
		q.write(s.d.quote(col) + " = " + q.arg(v))
	}
	q.write(" WHERE " + s.d.quote(p.ForeignPivotColumn()) + " = " + q.arg(int64(parent)))
	q.write(" AND " + s.d.quote(p.RelatedPivotColumn()) + " = " + q.arg(int64(related)))

	res, err := s.q.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return classify("update pivot "+rel.Path(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s pivot %d→%d", ErrNotFound, rel.Path(), parent, related)
	}
	return nil
}

func pivotArg(rel *schema.Relation, col string, v ir.IRValue) (any, error) {
	ft, ok := rel.Pivot.Columns[col]
	if !ok {
		return nil, fmt.Errorf("%w: pivot %s has no column %q", ErrUnknownColumn, rel.Pivot.Table, col)
	}
	return toSQL(col, ft, v)
}
