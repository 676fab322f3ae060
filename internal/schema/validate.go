package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes (E100-E199)
const (
	CodeUnknownType         = "E101" // relation or extends names an undeclared type
	CodeDuplicateName       = "E102" // duplicate type, field or relation name
	CodeNameConflict        = "E103" // relation name collides with a column
	CodeInvalidFieldType    = "E104" // field type is not string, int or bool
	CodeInvalidIdentifier   = "E105" // name is not a valid SQL identifier
	CodeTableConflict       = "E106" // two unrelated types claim one table
	CodeInvalidInheritance  = "E107" // broken extends/subtypes declaration
	CodeInvalidKey          = "E108" // local or foreign key cannot be used
	CodePivotMisuse         = "E109" // pivot missing on belongs_to_many or present elsewhere
	CodeInvalidRelationKind = "E110" // unknown relation kind
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found while building a registry.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d schema errors:\n  %s", len(errs), strings.Join(lines, "\n  "))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as a table or column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// collector accumulates validation errors without failing fast.
type collector struct {
	errs ValidationErrors
}

func (c *collector) add(field, code, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (c *collector) identifier(field, name string) bool {
	if ValidIdentifier(name) {
		return true
	}
	c.add(field, CodeInvalidIdentifier, "%q is not a valid identifier", name)
	return false
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}
