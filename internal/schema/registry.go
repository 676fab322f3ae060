package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/relfill/internal/ir"
)

var (
	// ErrUnknownType is returned when a type name is not registered.
	ErrUnknownType = errors.New("unknown entity type")
	// ErrUnknownRelation is returned by Describe for undeclared relation names.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrUnknownSubtype is returned when a discriminator value maps to no subtype.
	ErrUnknownSubtype = errors.New("unknown subtype")
)

// DefaultKeyColumn is the identity column used when a type declares none.
const DefaultKeyColumn = "id"

// DefaultDiscriminator is the discriminator column used when a base type
// declares subtypes without naming one.
const DefaultDiscriminator = "type"

// Table is a physical table derived from the registered types.
// Pivot tables have no KeyColumn.
type Table struct {
	Name      string
	KeyColumn string
	Columns   map[string]FieldType
	Unique    [][]string
}

// IsPivot reports whether the table is a belongs_to_many join table.
func (t *Table) IsPivot() bool { return t.KeyColumn == "" }

// ColumnNames returns the non-key columns in sorted order.
func (t *Table) ColumnNames() []string { return sortedFieldNames(t.Columns) }

// Registry holds every entity type and relation descriptor. It is built once
// and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	types    map[string]*EntityType
	tables   map[string]*Table
	warnings []CycleWarning
}

// NewRegistry validates the declared types, fills in key and table defaults,
// resolves inheritance and derives the physical tables.
//
// All problems are reported together as ValidationErrors.
func NewRegistry(decls ...*EntityType) (*Registry, error) {
	c := &collector{}
	r := &Registry{
		types:  make(map[string]*EntityType, len(decls)),
		tables: make(map[string]*Table),
	}

	for _, d := range decls {
		field := "entity." + d.Name
		if !c.identifier(field, d.Name) {
			continue
		}
		if _, dup := r.types[d.Name]; dup {
			c.add(field, CodeDuplicateName, "duplicate entity type %q", d.Name)
			continue
		}
		r.types[d.Name] = cloneDecl(d)
	}

	names := r.sortedNames()
	for _, name := range names {
		r.applyDefaults(r.types[name])
	}
	for _, name := range names {
		r.checkFields(c, r.types[name])
	}
	r.resolveInheritance(c, names)
	implied := r.resolveRelations(c, names)
	r.addImplied(implied)
	r.buildTables(c, names)

	if err := c.err(); err != nil {
		return nil, err
	}
	r.warnings = AnalyzeCycles(r)
	return r, nil
}

func cloneDecl(d *EntityType) *EntityType {
	t := *d
	t.Fields = make(map[string]FieldType, len(d.Fields))
	for k, v := range d.Fields {
		t.Fields[k] = v
	}
	if d.Subtypes != nil {
		t.Subtypes = make(map[string]string, len(d.Subtypes))
		for k, v := range d.Subtypes {
			t.Subtypes[k] = v
		}
	}
	t.Relations = make([]*Relation, len(d.Relations))
	for i, rel := range d.Relations {
		cp := *rel
		cp.Owner = d.Name
		if rel.Pivot != nil {
			p := *rel.Pivot
			p.Columns = make(map[string]FieldType, len(rel.Pivot.Columns))
			for k, v := range rel.Pivot.Columns {
				p.Columns[k] = v
			}
			cp.Pivot = &p
		}
		t.Relations[i] = &cp
	}
	return &t
}

func (r *Registry) applyDefaults(t *EntityType) {
	if t.KeyColumn == "" {
		t.KeyColumn = DefaultKeyColumn
	}
	if t.Base != "" {
		return
	}
	if t.Table == "" {
		t.Table = snakeCase(t.Name) + "s"
	}
	if len(t.Subtypes) > 0 && t.Discriminator == "" {
		t.Discriminator = DefaultDiscriminator
	}
}

func (r *Registry) checkFields(c *collector, t *EntityType) {
	prefix := "entity." + t.Name
	if t.Table != "" {
		c.identifier(prefix+".table", t.Table)
	}
	c.identifier(prefix+".key", t.KeyColumn)
	for _, name := range t.FieldNames() {
		field := prefix + ".fields." + name
		if !c.identifier(field, name) {
			continue
		}
		if name == t.KeyColumn {
			c.add(field, CodeNameConflict, "field %q shadows the key column", name)
		}
		if ft := t.Fields[name]; !ft.Valid() {
			c.add(field, CodeInvalidFieldType, "unsupported field type %q (use string, int or bool)", ft)
		}
	}
}

func (r *Registry) resolveInheritance(c *collector, names []string) {
	for _, name := range names {
		t := r.types[name]
		prefix := "entity." + name
		if t.Base == "" {
			for _, value := range sortedKeys(t.Subtypes) {
				sub := t.Subtypes[value]
				st, ok := r.types[sub]
				switch {
				case sub == t.Name:
					t.DiscriminatorValue = value
				case !ok:
					c.add(prefix+".subtypes."+value, CodeUnknownType, "subtype %q is not declared", sub)
				case st.Base != t.Name:
					c.add(prefix+".subtypes."+value, CodeInvalidInheritance, "subtype %q does not extend %q", sub, t.Name)
				}
			}
			if t.Discriminator != "" {
				c.identifier(prefix+".discriminator", t.Discriminator)
			}
			continue
		}

		field := prefix + ".extends"
		base, ok := r.types[t.Base]
		if !ok {
			c.add(field, CodeUnknownType, "extends undeclared type %q", t.Base)
			continue
		}
		if base.Base != "" {
			c.add(field, CodeInvalidInheritance, "%q is itself a subtype; only one level of inheritance is supported", t.Base)
			continue
		}
		if len(t.Subtypes) > 0 {
			c.add(prefix+".subtypes", CodeInvalidInheritance, "a subtype cannot declare subtypes")
			continue
		}
		if t.Table != "" && t.Table != base.Table {
			c.add(prefix+".table", CodeInvalidInheritance, "subtype table %q differs from base table %q", t.Table, base.Table)
			continue
		}
		value, listed := "", false
		for _, v := range sortedKeys(base.Subtypes) {
			if base.Subtypes[v] == name {
				value, listed = v, true
				break
			}
		}
		if !listed {
			c.add(field, CodeInvalidInheritance, "%q extends %q but is not listed in its subtypes", name, t.Base)
			continue
		}

		t.Table = base.Table
		t.KeyColumn = base.KeyColumn
		t.Discriminator = base.Discriminator
		t.DiscriminatorValue = value

		fields := make(map[string]FieldType, len(base.Fields)+len(t.Fields))
		for k, v := range base.Fields {
			fields[k] = v
		}
		for _, k := range t.FieldNames() {
			if prev, dup := fields[k]; dup && prev != t.Fields[k] {
				c.add(prefix+".fields."+k, CodeDuplicateName, "field %q redeclared with type %s (base has %s)", k, t.Fields[k], prev)
				continue
			}
			fields[k] = t.Fields[k]
		}
		t.Fields = fields
		t.Relations = append(append([]*Relation{}, base.Relations...), t.Relations...)
	}
}

// impliedColumns maps a root type name to the columns relations add to its table.
type impliedColumns map[string]map[string]FieldType

func (r *Registry) resolveRelations(c *collector, names []string) impliedColumns {
	implied := make(impliedColumns)
	resolved := make(map[*Relation]bool)

	for _, name := range names {
		t := r.types[name]
		if t.Discriminator != "" && t.Base == "" {
			if ft, declared := t.Fields[t.Discriminator]; declared && ft != FieldString {
				c.add("entity."+name+".discriminator", CodeInvalidInheritance, "discriminator %q must be a string field", t.Discriminator)
			}
			r.imply(c, "entity."+name+".discriminator", implied, t, t.Discriminator, FieldString)
		}

		seen := make(map[string]bool, len(t.Relations))
		for _, rel := range t.Relations {
			field := fmt.Sprintf("entity.%s.relations.%s", name, rel.Name)
			if seen[rel.Name] {
				c.add(field, CodeDuplicateName, "duplicate relation %q", rel.Name)
				continue
			}
			seen[rel.Name] = true
			if rel.Name == t.KeyColumn || t.HasField(rel.Name) {
				c.add(field, CodeNameConflict, "relation %q collides with a field", rel.Name)
			}
			if resolved[rel] {
				continue
			}
			resolved[rel] = true
			r.resolveRelation(c, field, rel, implied)
		}
	}
	return implied
}

func (r *Registry) resolveRelation(c *collector, field string, rel *Relation, implied impliedColumns) {
	if rel.Kind < KindBelongsTo || rel.Kind > KindBelongsToMany {
		c.add(field, CodeInvalidRelationKind, "unsupported relation kind %s", rel.Kind)
		return
	}
	if !c.identifier(field, rel.Name) {
		return
	}
	owner := r.types[rel.Owner]
	related, ok := r.types[rel.Related]
	if !ok {
		c.add(field, CodeUnknownType, "related type %q is not declared", rel.Related)
		return
	}
	if (rel.Pivot != nil) != (rel.Kind == KindBelongsToMany) {
		if rel.Pivot == nil {
			c.add(field, CodePivotMisuse, "belongs_to_many requires a pivot table")
		} else {
			c.add(field, CodePivotMisuse, "pivot is only valid on belongs_to_many")
		}
		return
	}

	switch rel.Kind {
	case KindBelongsTo:
		rel.LocalKey = r.column(c, field+".local_key", related.Table, rel.LocalKey, related.KeyColumn)
		rel.ForeignKey = r.column(c, field+".foreign_key", owner.Table, rel.ForeignKey, rel.Name+"_id")
		r.imply(c, field+".foreign_key", implied, owner, rel.ForeignKeyColumn(), r.keyType(c, field+".local_key", related, rel.LocalKeyColumn()))
	case KindHasOne, KindHasMany:
		rel.LocalKey = r.column(c, field+".local_key", owner.Table, rel.LocalKey, owner.KeyColumn)
		rel.ForeignKey = r.column(c, field+".foreign_key", related.Table, rel.ForeignKey, snakeCase(rel.Owner)+"_id")
		r.imply(c, field+".foreign_key", implied, related, rel.ForeignKeyColumn(), r.keyType(c, field+".local_key", owner, rel.LocalKeyColumn()))
	case KindBelongsToMany:
		rel.LocalKey = r.column(c, field+".local_key", owner.Table, rel.LocalKey, owner.KeyColumn)
		if rel.LocalKeyColumn() != owner.KeyColumn {
			c.add(field+".local_key", CodeInvalidKey, "belongs_to_many must use the owner key column %q", owner.KeyColumn)
		}
		p := rel.Pivot
		if !c.identifier(field+".pivot.table", p.Table) {
			return
		}
		p.ForeignPivotKey = r.column(c, field+".pivot.foreign_pivot_key", p.Table, p.ForeignPivotKey, snakeCase(rel.Owner)+"_id")
		p.RelatedPivotKey = r.column(c, field+".pivot.related_pivot_key", p.Table, p.RelatedPivotKey, snakeCase(rel.Related)+"_id")
		rel.ForeignKey = p.ForeignPivotKey
		if p.ForeignPivotColumn() == p.RelatedPivotColumn() {
			c.add(field+".pivot", CodeInvalidKey, "pivot key columns must differ (set foreign_pivot_key and related_pivot_key)")
		}
		for _, col := range p.ColumnNames() {
			cf := field + ".pivot.columns." + col
			if !c.identifier(cf, col) {
				continue
			}
			if col == p.ForeignPivotColumn() || col == p.RelatedPivotColumn() {
				c.add(cf, CodeNameConflict, "pivot column %q collides with a pivot key", col)
			}
			if !p.Columns[col].Valid() {
				c.add(cf, CodeInvalidFieldType, "unsupported field type %q (use string, int or bool)", p.Columns[col])
			}
		}
	}
}

// column qualifies a key against its expected table, using def when the
// declaration left it empty.
func (r *Registry) column(c *collector, field, table, given, def string) string {
	if given == "" {
		given = def
	}
	q := qualify(table, given)
	if q[:len(q)-len(bareColumn(q))-1] != table {
		c.add(field, CodeInvalidKey, "key %q must be on table %q", given, table)
	}
	c.identifier(field, bareColumn(q))
	return q
}

// keyType returns the type a foreign key referencing column of t must have.
func (r *Registry) keyType(c *collector, field string, t *EntityType, column string) FieldType {
	if column == t.KeyColumn {
		return FieldInt
	}
	if ft, ok := t.Fields[column]; ok {
		return ft
	}
	c.add(field, CodeInvalidKey, "%q is not a column of %s", column, t.Name)
	return FieldInt
}

func (r *Registry) imply(c *collector, field string, implied impliedColumns, target *EntityType, column string, ft FieldType) {
	root := r.types[target.RootName()]
	if root == nil {
		return
	}
	if column == root.KeyColumn {
		c.add(field, CodeInvalidKey, "%q is the key column of %s", column, root.Name)
		return
	}
	if declared, ok := target.Fields[column]; ok && declared != ft {
		c.add(field, CodeInvalidKey, "column %q is declared %s but must be %s", column, declared, ft)
		return
	}
	cols := implied[root.Name]
	if cols == nil {
		cols = make(map[string]FieldType)
		implied[root.Name] = cols
	}
	if prev, ok := cols[column]; ok && prev != ft {
		c.add(field, CodeInvalidKey, "column %q is required as both %s and %s", column, prev, ft)
		return
	}
	cols[column] = ft
}

func (r *Registry) addImplied(implied impliedColumns) {
	for _, t := range r.types {
		for col, ft := range implied[t.RootName()] {
			if _, ok := t.Fields[col]; !ok {
				t.Fields[col] = ft
			}
		}
	}
}

func (r *Registry) buildTables(c *collector, names []string) {
	for _, name := range names {
		t := r.types[name]
		if t.Base != "" {
			continue
		}
		if owner := r.tableOwner(t.Table, names); owner != name {
			c.add("entity."+name+".table", CodeTableConflict, "table %q is already used by %s", t.Table, owner)
			continue
		}
		tbl := &Table{Name: t.Table, KeyColumn: t.KeyColumn, Columns: make(map[string]FieldType)}
		for _, member := range names {
			mt := r.types[member]
			if mt.RootName() != name {
				continue
			}
			for col, ft := range mt.Fields {
				if prev, ok := tbl.Columns[col]; ok && prev != ft {
					c.add("entity."+member+".fields."+col, CodeTableConflict, "column %s.%s is %s in one subtype and %s in another", t.Table, col, prev, ft)
					continue
				}
				tbl.Columns[col] = ft
			}
		}
		r.tables[t.Table] = tbl
	}

	done := make(map[*Relation]bool)
	for _, name := range names {
		for _, rel := range r.types[name].Relations {
			if rel.Kind != KindBelongsToMany || rel.Pivot == nil || done[rel] {
				continue
			}
			done[rel] = true
			r.addPivotTable(c, fmt.Sprintf("entity.%s.relations.%s.pivot", rel.Owner, rel.Name), rel.Pivot)
		}
	}
}

func (r *Registry) tableOwner(table string, names []string) string {
	for _, name := range names {
		if t := r.types[name]; t.Base == "" && t.Table == table {
			return name
		}
	}
	return ""
}

func (r *Registry) addPivotTable(c *collector, field string, p *PivotSpec) {
	tbl, ok := r.tables[p.Table]
	if ok && !tbl.IsPivot() {
		c.add(field, CodeTableConflict, "pivot table %q is also an entity table", p.Table)
		return
	}
	if !ok {
		tbl = &Table{Name: p.Table, Columns: make(map[string]FieldType)}
		r.tables[p.Table] = tbl
	}
	cols := map[string]FieldType{p.ForeignPivotColumn(): FieldInt, p.RelatedPivotColumn(): FieldInt}
	for k, v := range p.Columns {
		cols[k] = v
	}
	for col, ft := range cols {
		if prev, exists := tbl.Columns[col]; exists && prev != ft {
			c.add(field, CodeTableConflict, "pivot column %s.%s is declared as both %s and %s", p.Table, col, prev, ft)
			continue
		}
		tbl.Columns[col] = ft
	}

	unique := []string{p.ForeignPivotColumn(), p.RelatedPivotColumn()}
	sort.Strings(unique)
	for _, u := range tbl.Unique {
		if u[0] == unique[0] && u[1] == unique[1] {
			return
		}
	}
	tbl.Unique = append(tbl.Unique, unique)
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Type returns the registered type with the given name.
func (r *Registry) Type(name string) (*EntityType, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// Types returns every registered type sorted by name.
func (r *Registry) Types() []*EntityType {
	names := r.sortedNames()
	out := make([]*EntityType, len(names))
	for i, name := range names {
		out[i] = r.types[name]
	}
	return out
}

// Describe returns the descriptor of relation on typeName.
func (r *Registry) Describe(typeName, relation string) (*Relation, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	rel := t.Relation(relation)
	if rel == nil {
		return nil, fmt.Errorf("%w: %s has no relation %q", ErrUnknownRelation, typeName, relation)
	}
	return rel, nil
}

// FillableRelations returns the relations of typeName that payloads may
// write, in declaration order, inherited relations first. Guarded relations
// are left out.
func (r *Registry) FillableRelations(typeName string) ([]*Relation, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	var out []*Relation
	for _, rel := range t.Relations {
		if rel.Fillable() {
			out = append(out, rel)
		}
	}
	return out, nil
}

// PivotRelationsTo returns the belongs_to_many relations whose related type
// is stored in table, one per distinct pivot column. Subtypes inherit
// relations, so the same pivot column can be reached from several types.
func (r *Registry) PivotRelationsTo(table string) []*Relation {
	var out []*Relation
	seen := make(map[string]bool)
	for _, t := range r.Types() {
		for _, rel := range t.Relations {
			if rel.Kind != KindBelongsToMany {
				continue
			}
			related, ok := r.types[rel.Related]
			if !ok || related.Table != table {
				continue
			}
			col := rel.Pivot.Table + "." + rel.Pivot.RelatedPivotColumn()
			if seen[col] {
				continue
			}
			seen[col] = true
			out = append(out, rel)
		}
	}
	return out
}

// IsA reports whether typeName is ancestor or one of its subtypes.
func (r *Registry) IsA(typeName, ancestor string) bool {
	if typeName == ancestor {
		return true
	}
	t, ok := r.types[typeName]
	return ok && t.Base == ancestor
}

// ResolveConcreteType picks the type to instantiate for attrs. When the
// requested type belongs to an inheritance tree and attrs carry a
// discriminator value, the mapped subtype is returned; it must be the
// requested type or one of its subtypes.
func (r *Registry) ResolveConcreteType(typeName string, attrs ir.IRObject) (*EntityType, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	if t.Discriminator == "" {
		return t, nil
	}
	v, ok := attrs[t.Discriminator]
	if !ok || ir.IsBlank(v) {
		return t, nil
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return nil, fmt.Errorf("%w: discriminator %s must be a string, got %s", ErrUnknownSubtype, t.Discriminator, ir.TypeName(v))
	}
	root := r.types[t.RootName()]
	name, ok := root.Subtypes[string(s)]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no subtype for %s=%q", ErrUnknownSubtype, root.Name, t.Discriminator, string(s))
	}
	if !r.IsA(name, t.Name) {
		return nil, fmt.Errorf("%w: %s=%q selects %s, which is not a %s", ErrUnknownSubtype, t.Discriminator, string(s), name, t.Name)
	}
	return r.types[name], nil
}

// StoredType returns the concrete type of a stored row of t. Rows whose
// discriminator is missing or unknown keep the requested type.
func (r *Registry) StoredType(t *EntityType, fields ir.IRObject) *EntityType {
	concrete, err := r.ResolveConcreteType(t.Name, fields)
	if err != nil {
		return t
	}
	return concrete
}

// Tables returns every physical table sorted by name.
func (r *Registry) Tables() []*Table {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Table, len(names))
	for i, name := range names {
		out[i] = r.tables[name]
	}
	return out
}

// Table returns the physical table with the given name, or nil.
func (r *Registry) Table(name string) *Table {
	return r.tables[name]
}

// Warnings returns the non-fatal findings of the last build, such as
// recursive relation graphs.
func (r *Registry) Warnings() []CycleWarning {
	return r.warnings
}
