// Package schema holds the relation descriptors the engine dispatches on.
//
// Types and relations are declared in CUE (see Compile) or built directly with
// NewRegistry. The registry fills in the conventional key names, resolves
// single-table inheritance and derives the physical tables a store creates:
//
//	belongs_to       FK <owner_table>.<relation>_id   → <related_table>.<key>
//	has_one/has_many FK <related_table>.<owner>_id    → <owner_table>.<key>
//	belongs_to_many  <pivot>.<owner>_id, <pivot>.<related>_id
//
// A relation declared with `fillable: false` is guarded: it can be described
// and read, but FillableRelations leaves it out and payloads cannot write it.
//
// Keys are always exposed qualified (table.column); ForeignKeyColumn and
// LocalKeyColumn return the bare column.
package schema
