package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no row matches a key or criteria lookup.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousMatch is returned when a criteria lookup matches more than one row.
	ErrAmbiguousMatch = errors.New("ambiguous match")
	// ErrUnknownColumn is returned when a write or lookup names a column the
	// entity type does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidValue is returned when a value cannot be stored in its column.
	ErrInvalidValue = errors.New("invalid column value")
	// ErrConstraint is returned when the database rejects a write on a
	// uniqueness or integrity constraint.
	ErrConstraint = errors.New("constraint violation")
)

// classify wraps driver errors that callers may want to branch on.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %w", op, ErrConstraint, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		// 23xxx is the integrity_constraint_violation class.
		return fmt.Errorf("%s: %w: %w", op, ErrConstraint, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
