package ir

import (
	"fmt"
	"sort"
)

// Key is the identity of a stored row.
type Key int64

// NoKey marks an entity that has not been persisted yet.
const NoKey Key = 0

// String renders the key as a decimal number.
func (k Key) String() string {
	return fmt.Sprintf("%d", int64(k))
}

// Entity is an in-memory handle to a row.
//
// Fields holds every column value except the identity key. Set tracks which
// columns changed since the entity was loaded or last saved, so a store can
// issue a minimal UPDATE. Related caches the entities a fill resolved for each
// relation name; it is never persisted.
//
// An *Entity is also an IRValue: callers may place a loaded entity directly
// inside a payload to reference it without a lookup.
type Entity struct {
	Type   string
	Key    Key
	Fields IRObject

	dirty   map[string]bool
	related map[string][]*Entity
}

func (*Entity) irValue() {}

// NewEntity creates an unpersisted entity of the given type.
func NewEntity(typeName string) *Entity {
	return &Entity{Type: typeName, Fields: IRObject{}}
}

// LoadedEntity creates a persisted entity with clean state.
// Stores use this when materializing rows.
func LoadedEntity(typeName string, key Key, fields IRObject) *Entity {
	if fields == nil {
		fields = IRObject{}
	}
	return &Entity{Type: typeName, Key: key, Fields: fields}
}

// Exists reports whether the entity has an identity key.
func (e *Entity) Exists() bool {
	return e.Key != NoKey
}

// Get returns the value of a field.
func (e *Entity) Get(field string) (IRValue, bool) {
	v, ok := e.Fields[field]
	return v, ok
}

// Set assigns a field, marking it dirty only when the value changes.
func (e *Entity) Set(field string, v IRValue) {
	if v == nil {
		v = IRNull{}
	}
	if e.Fields == nil {
		e.Fields = IRObject{}
	}
	if cur, ok := e.Fields[field]; ok && Equal(cur, v) {
		return
	}
	e.Fields[field] = v
	if e.dirty == nil {
		e.dirty = make(map[string]bool)
	}
	e.dirty[field] = true
}

// Fill assigns every field in attrs.
func (e *Entity) Fill(attrs IRObject) {
	for _, k := range attrs.SortedKeys() {
		e.Set(k, attrs[k])
	}
}

// Dirty returns the changed field names in sorted order.
func (e *Entity) Dirty() []string {
	out := make([]string, 0, len(e.dirty))
	for k := range e.dirty {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsDirty reports whether any field changed since the last save.
func (e *Entity) IsDirty() bool {
	return len(e.dirty) > 0
}

// MarkClean forgets pending changes. Called by stores after a save.
func (e *Entity) MarkClean() {
	e.dirty = nil
}

// SetRelated caches the entities resolved for a relation.
func (e *Entity) SetRelated(relation string, entities []*Entity) {
	if e.related == nil {
		e.related = make(map[string][]*Entity)
	}
	e.related[relation] = entities
}

// Related returns the cached entities for a relation.
func (e *Entity) Related(relation string) []*Entity {
	return e.related[relation]
}

// Ref returns a compact reference object used in JSON output and messages.
func (e *Entity) Ref() IRObject {
	return IRObject{"type": IRString(e.Type), "key": IRInt(e.Key)}
}

// String renders the entity as Type#key, or Type#new before persistence.
func (e *Entity) String() string {
	if !e.Exists() {
		return e.Type + "#new"
	}
	return fmt.Sprintf("%s#%d", e.Type, e.Key)
}

// PivotRow is one join-table row of a many-to-many association,
// addressed by the related entity's key.
type PivotRow struct {
	RelatedKey Key
	Attributes IRObject
}
