// Package store persists entities described by a schema.Registry in SQLite
// (github.com/mattn/go-sqlite3) or Postgres (github.com/jackc/pgx/v5).
//
// Every registry table becomes one SQL table, created with CREATE TABLE IF
// NOT EXISTS when the store opens; there are no migrations.
//
//   - Entity tables have an auto-increment integer key and one nullable
//     column per field, implied foreign key and discriminator.
//   - Pivot tables carry both foreign keys (NOT NULL, UNIQUE together) plus
//     the declared pivot columns.
//
// # Query conventions
//
//   - Every multi-row read is ordered by key, so results are deterministic.
//   - Criteria lookups fetch at most two rows to tell "one" from "many".
//   - Subtype queries add the discriminator predicate; base queries return
//     rows as their stored concrete subtype.
//
// The store never opens a transaction on its own. Wrap a whole fill in InTx
// to make it atomic.
package store
