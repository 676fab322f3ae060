// Package engine reconciles stored entity graphs with nested attribute
// payloads.
//
// A fill takes an entity and a map of attributes. Keys naming a relation of
// the entity's type are relation payloads; every other key is an own field.
// The engine assigns the own fields, then walks the relation payloads in
// declaration order and brings each association in line with the payload:
//
//	belongs_to       point the owner's foreign key at one related row
//	has_one          upsert the single child, delete any other
//	has_many         upsert every listed child, delete the rest
//	belongs_to_many  attach, detach and update join-table rows
//
// Items nested inside relation payloads are filled recursively. Each relation
// write produces a ChangeReport; a fill returns them in execution order in
// its Result.
//
// ARCHITECTURE:
//
//	Engine.Fill / Engine.Create
//	  └─ operation.fill          orchestrator (fill.go)
//	       ├─ Split              own fields vs relation payloads
//	       ├─ writeRelation      depth limit, cycle guard, tracing
//	       │    ├─ resolve       payload item → entity (resolver.go)
//	       │    └─ associate / upsertOne / syncMany / syncPivot
//	       └─ Store.Save
//
// OWNERSHIP:
//
// has_one and has_many children are owned: they may be created from a map,
// are updated with every field the payload carries, and are deleted when the
// payload no longer lists them. belongs_to and belongs_to_many targets are
// not owned. They are only ever looked up, and their own fields or nested
// relations are written only when the relation allows deep modification.
//
// TRANSACTIONS:
//
// The engine does not open transactions. A failed fill returns the first
// error and leaves the writes before it in place. Run the fill inside
// store.Store.InTx with an engine bound through WithStore to make it atomic.
package engine
