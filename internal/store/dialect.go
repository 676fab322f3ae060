package store

import (
	"fmt"
	"strings"

	"github.com/roach88/relfill/internal/schema"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// dialect holds the SQL differences between the supported drivers.
type dialect struct {
	driver string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return dialect{driver: driver}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q (use %s or %s)", driver, DriverSQLite, DriverPostgres)
	}
}

func (d dialect) postgres() bool { return d.driver == DriverPostgres }

// placeholder returns the n-th (1-based) bind parameter.
func (d dialect) placeholder(n int) string {
	if d.postgres() {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// quote quotes an identifier. Names are validated by the schema registry,
// so they never contain quotes.
func (d dialect) quote(ident string) string {
	return `"` + ident + `"`
}

func (d dialect) columnType(ft schema.FieldType) string {
	switch ft {
	case schema.FieldInt:
		if d.postgres() {
			return "BIGINT"
		}
		return "INTEGER"
	case schema.FieldBool:
		if d.postgres() {
			return "BOOLEAN"
		}
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d dialect) keyColumn(name string) string {
	if d.postgres() {
		return d.quote(name) + " BIGSERIAL PRIMARY KEY"
	}
	return d.quote(name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

// createTable renders an idempotent CREATE TABLE for t. Pivot key columns
// (the members of a UNIQUE set) are NOT NULL.
func (d dialect) createTable(t *schema.Table) string {
	required := make(map[string]bool)
	for _, u := range t.Unique {
		for _, col := range u {
			required[col] = true
		}
	}

	var defs []string
	if !t.IsPivot() {
		defs = append(defs, d.keyColumn(t.KeyColumn))
	}
	for _, col := range t.ColumnNames() {
		def := d.quote(col) + " " + d.columnType(t.Columns[col])
		if required[col] {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	for _, u := range t.Unique {
		quoted := make([]string, len(u))
		for i, col := range u {
			quoted[i] = d.quote(col)
		}
		defs = append(defs, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.quote(t.Name), strings.Join(defs, ",\n\t"))
}

// query accumulates SQL text and bind arguments, numbering placeholders for
// the dialect.
type query struct {
	d    dialect
	sb   strings.Builder
	args []any
}

func (d dialect) newQuery(format string, a ...any) *query {
	q := &query{d: d}
	fmt.Fprintf(&q.sb, format, a...)
	return q
}

func (q *query) write(s string) *query {
	q.sb.WriteString(s)
	return q
}

// arg binds v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return q.d.placeholder(len(q.args))
}

func (q *query) String() string { return q.sb.String() }
