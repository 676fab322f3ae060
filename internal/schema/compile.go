package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileString compiles CUE source holding an entity struct into a Registry.
// The filename is only used in error positions.
func CompileString(filename, src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile builds a Registry from every member of the top-level entity struct:
//
//	entity: Post: {
//		table: "posts"
//		fields: { title: string, views: int }
//		relations: [{ name: "author", kind: "belongs_to", related: "User" }]
//	}
func Compile(v cue.Value) (*Registry, error) {
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entity declarations found", Pos: v.Pos()}
	}

	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var decls []*EntityType
	for iter.Next() {
		t, err := CompileEntity(iter.Value())
		if err != nil {
			return nil, err
		}
		decls = append(decls, t)
	}
	return NewRegistry(decls...)
}

// CompileEntity parses one entity struct. The type name is the struct label.
func CompileEntity(v cue.Value) (*EntityType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	t := &EntityType{Fields: make(map[string]FieldType)}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		t.Name = labels[len(labels)-1].String()
	}

	var err error
	if t.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if t.KeyColumn, err = optionalString(v, "key"); err != nil {
		return nil, err
	}
	if t.Discriminator, err = optionalString(v, "discriminator"); err != nil {
		return nil, err
	}
	if t.Base, err = optionalString(v, "extends"); err != nil {
		return nil, err
	}

	if t.Fields, err = parseColumns(v, "fields"); err != nil {
		return nil, err
	}

	subVal := v.LookupPath(cue.ParsePath("subtypes"))
	if subVal.Exists() {
		t.Subtypes = make(map[string]string)
		subIter, err := subVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for subIter.Next() {
			name, err := subIter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t.Subtypes[subIter.Label()] = name
		}
	}

	t.Relations, err = parseRelations(v)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// parseRelations extracts the ordered relation list.
func parseRelations(v cue.Value) ([]*Relation, error) {
	relVal := v.LookupPath(cue.ParsePath("relations"))
	if !relVal.Exists() {
		return nil, nil
	}

	iter, err := relVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rels []*Relation
	for iter.Next() {
		rv := iter.Value()
		rel := &Relation{}

		if rel.Name, err = requiredString(rv, "name"); err != nil {
			return nil, err
		}
		kind, err := requiredString(rv, "kind")
		if err != nil {
			return nil, err
		}
		if rel.Kind, err = ParseRelationKind(kind); err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relations.%s.kind", rel.Name),
				Message: err.Error(),
				Pos:     rv.LookupPath(cue.ParsePath("kind")).Pos(),
			}
		}
		if rel.Related, err = requiredString(rv, "related"); err != nil {
			return nil, err
		}
		if rel.ForeignKey, err = optionalString(rv, "foreign_key"); err != nil {
			return nil, err
		}
		if rel.LocalKey, err = optionalString(rv, "local_key"); err != nil {
			return nil, err
		}

		deepVal := rv.LookupPath(cue.ParsePath("allow_deep_modification"))
		if deepVal.Exists() {
			if rel.AllowDeepModification, err = deepVal.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		fillVal := rv.LookupPath(cue.ParsePath("fillable"))
		if fillVal.Exists() {
			fillable, err := fillVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rel.Guarded = !fillable
		}

		pivotVal := rv.LookupPath(cue.ParsePath("pivot"))
		if pivotVal.Exists() {
			p := &PivotSpec{}
			if p.Table, err = requiredString(pivotVal, "table"); err != nil {
				return nil, err
			}
			if p.ForeignPivotKey, err = optionalString(pivotVal, "foreign_pivot_key"); err != nil {
				return nil, err
			}
			if p.RelatedPivotKey, err = optionalString(pivotVal, "related_pivot_key"); err != nil {
				return nil, err
			}
			if p.Columns, err = parseColumns(pivotVal, "columns"); err != nil {
				return nil, err
			}
			rel.Pivot = p
		}

		rels = append(rels, rel)
	}
	return rels, nil
}

// parseColumns reads a struct of column name → type. Both the CUE type
// (`title: string`) and the quoted name (`title: "string"`) are accepted.
func parseColumns(v cue.Value, path string) (map[string]FieldType, error) {
	cols := make(map[string]FieldType)
	colVal := v.LookupPath(cue.ParsePath(path))
	if !colVal.Exists() {
		return cols, nil
	}

	iter, err := colVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ft, err := extractFieldType(iter.Value())
		if err != nil {
			return nil, err
		}
		cols[iter.Label()] = ft
	}
	return cols, nil
}

// extractFieldType converts a CUE column declaration to a FieldType.
// Floats are forbidden; numeric casting happens before data reaches the engine.
func extractFieldType(v cue.Value) (FieldType, error) {
	if v.IsConcrete() && v.Kind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		ft := FieldType(s)
		if !ft.Valid() {
			return "", &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("unsupported field type %q (use string, int or bool)", s),
				Pos:     v.Pos(),
			}
		}
		return ft, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return FieldString, nil
	case cue.IntKind:
		return FieldInt, nil
	case cue.BoolKind:
		return FieldBool, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
