package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// FindByKey loads the row of t with the given key. Subtype lookups only match
// rows of that subtype; base lookups return the stored concrete subtype.
func (s *Store) FindByKey(ctx context.Context, t *schema.EntityType, key ir.Key) (*ir.Entity, error) {
	tbl, err := s.table(t)
	if err != nil {
		return nil, err
	}

	q := s.selectRows(tbl)
	q.write(" WHERE " + s.d.quote(tbl.KeyColumn) + " = " + q.arg(int64(key)))
	s.scope(q, t)

	found, err := s.queryEntities(ctx, q, t, tbl)
	if err != nil {
		return nil, fmt.Errorf("find %s#%d: %w", t.Name, key, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, t.Name, key)
	}
	return found[0], nil
}

// FindByCriteria loads the single row of t whose columns equal criteria.
// A null criterion matches NULL. Returns ErrNotFound for no match and
// ErrAmbiguousMatch for more than one.
func (s *Store) FindByCriteria(ctx context.Context, t *schema.EntityType, criteria ir.IRObject) (*ir.Entity, error) {
	tbl, err := s.table(t)
	if err != nil {
		return nil, err
	}

	q := s.selectRows(tbl)
	q.write(" WHERE 1 = 1")
	for _, col := range criteria.SortedKeys() {
		ft, ok := s.columnType(t, col)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrUnknownColumn, t.Name, col)
		}
		if isNull(criteria[col]) {
			q.write(" AND " + s.d.quote(col) + " IS NULL")
			continue
		}
		v, err := toSQL(col, ft, criteria[col])
		if err != nil {
			return nil, err
		}
		q.write(" AND " + s.d.quote(col) + " = " + q.arg(v))
	}
	s.scope(q, t)
	q.write(" ORDER BY " + s.d.quote(tbl.KeyColumn) + " LIMIT 2")

	found, err := s.queryEntities(ctx, q, t, tbl)
	if err != nil {
		return nil, fmt.Errorf("find %s by criteria: %w", t.Name, err)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s matching %s", ErrNotFound, t.Name, ir.Describe(criteria))
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matching %s", ErrAmbiguousMatch, t.Name, ir.Describe(criteria))
	}
}

// RelatedKeys returns the keys of t's rows whose column equals value, in key
// order. It is the "current association" query for has_one and has_many.
func (s *Store) RelatedKeys(ctx context.Context, t *schema.EntityType, column string, value ir.IRValue) ([]ir.Key, error) {
	tbl, err := s.table(t)
	if err != nil {
		return nil, err
	}
	ft, ok := s.columnType(t, column)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no column %q", ErrUnknownColumn, t.Name, column)
	}
	v, err := toSQL(column, ft, value)
	if err != nil {
		return nil, err
	}

	q := s.d.newQuery("SELECT %s FROM %s WHERE %s = ", s.d.quote(tbl.KeyColumn), s.d.quote(tbl.Name), s.d.quote(column))
	q.write(q.arg(v))
	s.scope(q, t)
	q.write(" ORDER BY " + s.d.quote(tbl.KeyColumn))

	rows, err := s.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, classify("related keys", err)
	}
	defer rows.Close()

	var keys []ir.Key
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		k, err := keyFromSQL(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("related keys: %w", err)
	}
	return keys, nil
}

// PivotRows returns the join rows of rel for parent, ordered by related key.
// Attributes hold only the relation's pivot columns; NULL columns are omitted.
func (s *Store) PivotRows(ctx context.Context, rel *schema.Relation, parent ir.Key) ([]ir.PivotRow, error) {
	p := rel.Pivot
	cols := p.ColumnNames()

	q := s.d.newQuery("SELECT %s", s.d.quote(p.RelatedPivotColumn()))
	for _, col := range cols {
		q.write(", " + s.d.quote(col))
	}
	q.write(fmt.Sprintf(" FROM %s WHERE %s = ", s.d.quote(p.Table), s.d.quote(p.ForeignPivotColumn())))
	q.write(q.arg(int64(parent)))
	q.write(" ORDER BY " + s.d.quote(p.RelatedPivotColumn()))

	rows, err := s.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, classify("pivot rows", err)
	}
	defer rows.Close()

	var out []ir.PivotRow
	for rows.Next() {
		raw := make([]any, len(cols)+1)
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan pivot row: %w", err)
		}
		key, err := keyFromSQL(raw[0])
		if err != nil {
			return nil, err
		}
		attrs := ir.IRObject{}
		for i, col := range cols {
			v, err := fromSQL(p.Columns[col], raw[i+1])
			if err != nil {
				return nil, fmt.Errorf("pivot column %s: %w", col, err)
			}
			if _, null := v.(ir.IRNull); !null {
				attrs[col] = v
			}
		}
		out = append(out, ir.PivotRow{RelatedKey: key, Attributes: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pivot rows: %w", err)
	}
	return out, nil
}

func (s *Store) selectRows(tbl *schema.Table) *query {
	q := s.d.newQuery("SELECT %s", s.d.quote(tbl.KeyColumn))
	for _, col := range tbl.ColumnNames() {
		q.write(", " + s.d.quote(col))
	}
	q.write(" FROM " + s.d.quote(tbl.Name))
	return q
}

// scope restricts a query on a subtype to rows carrying its discriminator.
func (s *Store) scope(q *query, t *schema.EntityType) {
	if t.Base == "" || t.Discriminator == "" {
		return
	}
	q.write(" AND " + s.d.quote(t.Discriminator) + " = " + q.arg(t.DiscriminatorValue))
}

func (s *Store) queryEntities(ctx context.Context, q *query, t *schema.EntityType, tbl *schema.Table) ([]*ir.Entity, error) {
	rows, err := s.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	var out []*ir.Entity
	for rows.Next() {
		e, err := s.scanEntity(rows, t, tbl)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanEntity materializes one row as its concrete type, keeping only the
// columns that type declares.
func (s *Store) scanEntity(rows *sql.Rows, t *schema.EntityType, tbl *schema.Table) (*ir.Entity, error) {
	cols := tbl.ColumnNames()
	raw := make([]any, len(cols)+1)
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", tbl.Name, err)
	}

	key, err := keyFromSQL(raw[0])
	if err != nil {
		return nil, err
	}
	all := make(ir.IRObject, len(cols))
	for i, col := range cols {
		v, err := fromSQL(tbl.Columns[col], raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", tbl.Name, col, err)
		}
		all[col] = v
	}

	concrete := s.reg.StoredType(t, all)
	fields := make(ir.IRObject, len(concrete.Fields))
	for col := range concrete.Fields {
		if v, ok := all[col]; ok {
			fields[col] = v
		}
	}
	return ir.LoadedEntity(concrete.Name, key, fields), nil
}

func (s *Store) columnType(t *schema.EntityType, column string) (schema.FieldType, bool) {
	if column == t.KeyColumn {
		return schema.FieldInt, true
	}
	ft, ok := t.Fields[column]
	return ft, ok
}

func isNull(v ir.IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(ir.IRNull)
	return ok
}
