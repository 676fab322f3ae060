package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// Create inserts a new row of t and returns it as a clean entity. Subtypes
// always write their discriminator value. Columns t declares but fields
// omits come back as null.
func (s *Store) Create(ctx context.Context, t *schema.EntityType, fields ir.IRObject) (*ir.Entity, error) {
	tbl, err := s.table(t)
	if err != nil {
		return nil, err
	}

	row := fields.Clone()
	if row == nil {
		row = ir.IRObject{}
	}
	if t.Discriminator != "" && t.DiscriminatorValue != "" {
		row[t.Discriminator] = ir.IRString(t.DiscriminatorValue)
	}

	cols := row.SortedKeys()
	q := s.d.newQuery("INSERT INTO %s", s.d.quote(tbl.Name))
	if len(cols) == 0 {
		q.write(" DEFAULT VALUES")
	} else {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, col := range cols {
			ft, ok := t.Fields[col]
			if !ok {
				return nil, fmt.Errorf("%w: %s has no column %q", ErrUnknownColumn, t.Name, col)
			}
			v, err := toSQL(col, ft, row[col])
			if err != nil {
				return nil, err
			}
			quoted[i] = s.d.quote(col)
			marks[i] = q.arg(v)
		}
		q.write(" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")")
	}

	key, err := s.insert(ctx, q, tbl.KeyColumn)
	if err != nil {
		return nil, classify("create "+t.Name, err)
	}

	for col := range t.Fields {
		if _, ok := row[col]; !ok {
			row[col] = ir.IRNull{}
		}
	}
	for col, v := range row {
		if e, ok := v.(*ir.Entity); ok {
			row[col] = ir.IRInt(e.Key)
		}
	}
	return ir.LoadedEntity(t.Name, key, row), nil
}

func (s *Store) insert(ctx context.Context, q *query, keyColumn string) (ir.Key, error) {
	if s.d.postgres() {
		q.write(" RETURNING " + s.d.quote(keyColumn))
		rows, err := s.q.QueryContext(ctx, q.String(), q.args...)
		if err != nil {
			return ir.NoKey, err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return ir.NoKey, err
			}
			return ir.NoKey, fmt.Errorf("insert returned no key")
		}
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return ir.NoKey, err
		}
		return keyFromSQL(raw)
	}

	res, err := s.q.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return ir.NoKey, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ir.NoKey, err
	}
	return ir.Key(id), nil
}

// Save persists e. A new entity is inserted and receives its key; an existing
// one has its dirty columns updated. Saving a clean entity is a no-op.
func (s *Store) Save(ctx context.Context, e *ir.Entity) error {
	t, err := s.reg.Type(e.Type)
	if err != nil {
		return err
	}

	if !e.Exists() {
		created, err := s.Create(ctx, t, e.Fields)
		if err != nil {
			return err
		}
		e.Key = created.Key
		e.Fields = created.Fields
		e.MarkClean()
		return nil
	}

	dirty := e.Dirty()
	if len(dirty) == 0 {
		return nil
	}
	tbl, err := s.table(t)
	if err != nil {
		return err
	}

	q := s.d.newQuery("UPDATE %s SET ", s.d.quote(tbl.Name))
	for i, col := range dirty {
		ft, ok := t.Fields[col]
		if !ok {
			return fmt.Errorf("%w: %s has no column %q", ErrUnknownColumn, t.Name, col)
		}
		v, err := toSQL(col, ft, e.Fields[col])
		if err != nil {
			return err
		}
		if i > 0 {
			q.write(", ")
		}
		q.write(s.d.quote(col) + " = " + q.arg(v))
	}
	q.write(" WHERE " + s.d.quote(tbl.KeyColumn) + " = " + q.arg(int64(e.Key)))

	res, err := s.q.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return classify("save "+e.String(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, e)
	}
	e.MarkClean()
	return nil
}

// DeleteByKeys removes the rows of t with the given keys.
func (s *Store) DeleteByKeys(ctx context.Context, t *schema.EntityType, keys []ir.Key) error {
	if len(keys) == 0 {
		return nil
	}
	tbl, err := s.table(t)
	if err != nil {
		return err
	}

	q := s.d.newQuery("DELETE FROM %s WHERE %s IN (", s.d.quote(tbl.Name), s.d.quote(tbl.KeyColumn))
	q.write(s.keyList(q, keys) + ")")
	if _, err := s.q.ExecContext(ctx, q.String(), q.args...); err != nil {
		return classify("delete "+t.Name, err)
	}
	return nil
}

func (s *Store) keyList(q *query, keys []ir.Key) string {
	marks := make([]string, len(keys))
	for i, k := range keys {
		marks[i] = q.arg(int64(k))
	}
	return strings.Join(marks, ", ")
}
