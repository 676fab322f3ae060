package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes fill errors.
type Code string

const (
	// CodeUnknownRelation indicates a relation name the type does not declare.
	CodeUnknownRelation Code = "UNKNOWN_RELATION"

	// CodeNotFound indicates a required reference did not resolve.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAmbiguousMatch indicates a criteria reference matched more than one row.
	CodeAmbiguousMatch Code = "AMBIGUOUS_MATCH"

	// CodeDeepModificationForbidden indicates a payload tried to create or
	// modify a related entity the relation does not own.
	CodeDeepModificationForbidden Code = "DEEP_MODIFICATION_FORBIDDEN"

	// CodeMalformedPayload indicates a payload shape that does not fit the
	// relation's cardinality or the entity's columns.
	CodeMalformedPayload Code = "MALFORMED_PAYLOAD"

	// CodeUnsupportedRelationKind indicates a descriptor with a kind the
	// writer cannot dispatch.
	CodeUnsupportedRelationKind Code = "UNSUPPORTED_RELATION_KIND"

	// CodeCycleDetected indicates the same (entity, relation) pair would be
	// written twice in one operation.
	CodeCycleDetected Code = "CYCLE_DETECTED"

	// CodeMaxDepthExceeded indicates nesting deeper than the engine allows.
	CodeMaxDepthExceeded Code = "MAX_DEPTH_EXCEEDED"
)

// Error is returned by every failed fill.
//
// Fills fail fast: the first error aborts the operation. Writes already sent
// to the store are not rolled back; wrap the call in a transaction for
// all-or-nothing behavior.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// EntityType is the type owning the relation being written.
	EntityType string

	// Relation is the relation path, e.g. "Post.comments[1].tags".
	Relation string

	// Reference is the offending payload value rendered as JSON, if any.
	Reference string

	// OperationID identifies the fill.
	OperationID string

	// Err is the underlying store error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	if e.Relation != "" {
		b.WriteString(e.Relation)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Reference != "" {
		fmt.Fprintf(&b, " (ref=%s)", e.Reference)
	}
	if e.OperationID != "" {
		fmt.Fprintf(&b, " (op=%s)", e.OperationID)
	}
	return b.String()
}

// Unwrap exposes the store error behind NOT_FOUND, AMBIGUOUS_MATCH and
// MALFORMED_PAYLOAD errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND fill error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsCycleError reports whether err is a CYCLE_DETECTED fill error.
func IsCycleError(err error) bool {
	return CodeOf(err) == CodeCycleDetected
}

// IsDepthError reports whether err is a MAX_DEPTH_EXCEEDED fill error.
func IsDepthError(err error) bool {
	return CodeOf(err) == CodeMaxDepthExceeded
}

// IsPayloadError reports whether err was caused by the caller's payload
// rather than by the store or the schema.
func IsPayloadError(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeAmbiguousMatch, CodeDeepModificationForbidden, CodeMalformedPayload,
		CodeUnknownRelation, CodeCycleDetected, CodeMaxDepthExceeded:
		return true
	}
	return false
}
