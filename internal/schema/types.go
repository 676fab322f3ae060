package schema

import (
	"fmt"
	"sort"
	"strings"
)

// RelationKind is the closed set of relationship kinds the engine reconciles.
type RelationKind int

const (
	KindBelongsTo RelationKind = iota + 1
	KindHasOne
	KindHasMany
	KindBelongsToMany
)

// String returns the schema spelling of the kind.
func (k RelationKind) String() string {
	switch k {
	case KindBelongsTo:
		return "belongs_to"
	case KindHasOne:
		return "has_one"
	case KindHasMany:
		return "has_many"
	case KindBelongsToMany:
		return "belongs_to_many"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind in its schema spelling.
func (k RelationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseRelationKind maps a schema spelling to a RelationKind.
func ParseRelationKind(s string) (RelationKind, error) {
	switch s {
	case "belongs_to":
		return KindBelongsTo, nil
	case "has_one":
		return KindHasOne, nil
	case "has_many":
		return KindHasMany, nil
	case "belongs_to_many":
		return KindBelongsToMany, nil
	default:
		return 0, fmt.Errorf("unsupported relation kind %q", s)
	}
}

// RequiresParentKey reports whether writing the relation needs the owner to be
// persisted first. Only belongs_to stores its key on the owner row.
func (k RelationKind) RequiresParentKey() bool {
	return k == KindHasOne || k == KindHasMany || k == KindBelongsToMany
}

// IsCollection reports whether the relation payload must be a list.
func (k RelationKind) IsCollection() bool {
	return k == KindHasMany || k == KindBelongsToMany
}

// FieldType is the declared storage type of a column.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
)

// Valid reports whether t is one of the supported column types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldInt, FieldBool:
		return true
	}
	return false
}

// PivotSpec describes the join table of a belongs_to_many relation.
// Key columns are stored qualified as "table.column".
type PivotSpec struct {
	Table           string
	ForeignPivotKey string
	RelatedPivotKey string
	Columns         map[string]FieldType
}

// ForeignPivotColumn returns the bare column referencing the owner.
func (p *PivotSpec) ForeignPivotColumn() string { return bareColumn(p.ForeignPivotKey) }

// RelatedPivotColumn returns the bare column referencing the related entity.
func (p *PivotSpec) RelatedPivotColumn() string { return bareColumn(p.RelatedPivotKey) }

// ColumnNames returns the attribute column names in sorted order.
func (p *PivotSpec) ColumnNames() []string {
	return sortedFieldNames(p.Columns)
}

// Relation is the descriptor the engine dispatches on.
//
// ForeignKey and LocalKey are qualified ("table.column"):
//   - belongs_to: ForeignKey is on the owner table, LocalKey on the related table.
//   - has_one / has_many: ForeignKey is on the related table, LocalKey on the owner table.
//   - belongs_to_many: LocalKey is the owner key, the pivot holds both foreign keys.
type Relation struct {
	Name                  string
	Kind                  RelationKind
	Owner                 string
	Related               string
	ForeignKey            string
	LocalKey              string
	Pivot                 *PivotSpec
	AllowDeepModification bool

	// Guarded relations are declared (readable, cleaned up on delete) but
	// payloads cannot write them. Declared with `fillable: false`.
	Guarded bool
}

// Fillable reports whether payloads may write the relation.
func (r *Relation) Fillable() bool { return !r.Guarded }

// ForeignKeyColumn returns the bare foreign key column.
func (r *Relation) ForeignKeyColumn() string { return bareColumn(r.ForeignKey) }

// LocalKeyColumn returns the bare local key column.
func (r *Relation) LocalKeyColumn() string { return bareColumn(r.LocalKey) }

// Path renders the relation as Owner.name.
func (r *Relation) Path() string { return r.Owner + "." + r.Name }

// EntityType is a persisted type with its columns and relations.
//
// Subtypes (single-table inheritance) share the base table. Their Fields and
// Relations include everything inherited from Base, base entries first.
type EntityType struct {
	Name      string
	Table     string
	KeyColumn string
	Fields    map[string]FieldType
	Relations []*Relation

	// Discriminator is the column that stores the concrete subtype.
	Discriminator string
	// DiscriminatorValue is the value written for this type; empty on a base
	// type that is never stored as itself.
	DiscriminatorValue string
	// Subtypes maps discriminator values to subtype names. Only set on a base.
	Subtypes map[string]string
	// Base is the parent type of a subtype.
	Base string
}

// HasField reports whether name is a declared (or inherited) field.
func (t *EntityType) HasField(name string) bool {
	_, ok := t.Fields[name]
	return ok
}

// Relation returns the relation with the given name, or nil.
func (t *EntityType) Relation(name string) *Relation {
	for _, r := range t.Relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// FieldNames returns the field names in sorted order.
func (t *EntityType) FieldNames() []string {
	return sortedFieldNames(t.Fields)
}

// RootName returns the base type name for subtypes and the type's own name
// otherwise.
func (t *EntityType) RootName() string {
	if t.Base != "" {
		return t.Base
	}
	return t.Name
}

func bareColumn(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

func qualify(table, column string) string {
	if strings.ContainsRune(column, '.') {
		return column
	}
	return table + "." + column
}

func sortedFieldNames(m map[string]FieldType) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// snakeCase converts a type name such as "BlogPost" to "blog_post".
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := s[i-1]
				if prev != '_' && !(prev >= 'A' && prev <= 'Z') {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
