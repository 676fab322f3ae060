package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/roach88/relfill/internal/schema"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store persists entities of a schema.Registry in a relational database.
// Each registry table maps to one SQL table, created on Open.
type Store struct {
	db  *sql.DB
	q   querier
	tx  bool
	d   dialect
	reg *schema.Registry
}

// Open connects to the database and creates any missing tables for reg.
//
// driver is DriverSQLite (dsn is a file path or ":memory:") or
// DriverPostgres (dsn is a postgres:// URL). SQLite connections are
// configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Table creation is idempotent - safe to call multiple times.
func Open(driver, dsn string, reg *schema.Registry) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if !d.postgres() {
		// SQLite only supports one writer at a time, and an in-memory
		// database lives only as long as its single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, q: db, d: d, reg: reg}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// OpenSQLite opens a SQLite database at path.
func OpenSQLite(path string, reg *schema.Registry) (*Store, error) {
	return Open(DriverSQLite, path, reg)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Registry returns the schema the store was opened with.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.d.driver
}

// InTx runs fn against a Store bound to one transaction. The transaction
// commits when fn returns nil and rolls back otherwise. Nested calls reuse
// the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	txStore := *s
	txStore.q = tx
	txStore.tx = true
	if err := fn(&txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates every registry table that does not exist yet.
func (s *Store) applySchema(ctx context.Context) error {
	for _, t := range s.reg.Tables() {
		if _, err := s.db.ExecContext(ctx, s.d.createTable(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) table(t *schema.EntityType) (*schema.Table, error) {
	tbl := s.reg.Table(t.Table)
	if tbl == nil {
		return nil, fmt.Errorf("entity type %s has no table", t.Name)
	}
	return tbl, nil
}
