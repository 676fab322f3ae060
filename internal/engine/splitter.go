package engine

import (
	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// Payloads holds the relation payloads split off an attribute map, in the
// declaration order of the entity type's relations.
type Payloads struct {
	names  []string
	values map[string]ir.IRValue
}

// Split separates attrs into the entity's own fields and its relation
// payloads. A relation present with an empty list stays present: it means
// "clear this relation", unlike an absent key.
//
// Guarded relations are not split off: their keys stay with the own fields,
// where the orchestrator rejects them.
//
// Only one level is split. Nested items are split again when the writer
// reaches them, against their own (possibly subtype) entity type.
func Split(t *schema.EntityType, attrs ir.IRObject) (ir.IRObject, Payloads) {
	own := make(ir.IRObject, len(attrs))
	for k, v := range attrs {
		own[k] = v
	}

	p := Payloads{values: make(map[string]ir.IRValue)}
	for _, rel := range t.Relations {
		v, ok := attrs[rel.Name]
		if !ok || !rel.Fillable() {
			continue
		}
		p.names = append(p.names, rel.Name)
		p.values[rel.Name] = v
		delete(own, rel.Name)
	}
	return own, p
}

// Names returns the relation names present, in declaration order.
func (p Payloads) Names() []string {
	return append([]string(nil), p.names...)
}

// Get returns the payload of a relation.
func (p Payloads) Get(name string) (ir.IRValue, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of relation payloads.
func (p Payloads) Len() int {
	return len(p.names)
}

// Object returns the relation payloads as an attribute map.
func (p Payloads) Object() ir.IRObject {
	out := make(ir.IRObject, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
