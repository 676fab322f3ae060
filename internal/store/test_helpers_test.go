package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/testutil"
)

// createTestStore opens a blog-schema SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path, testutil.BlogRegistry(t))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func typeOf(t *testing.T, s *Store, name string) *schema.EntityType {
	t.Helper()
	return testutil.MustType(t, s.Registry(), name)
}

func relationOf(t *testing.T, s *Store, typeName, relation string) *schema.Relation {
	t.Helper()
	return testutil.MustRelation(t, s.Registry(), typeName, relation)
}

// mustCreate inserts a row and fails the test on error.
func mustCreate(t *testing.T, s *Store, typeName string, fields ir.IRObject) *ir.Entity {
	t.Helper()
	e, err := s.Create(context.Background(), typeOf(t, s, typeName), fields)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", typeName, err)
	}
	return e
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// verifyPragma checks a PRAGMA setting on the store's connection.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
