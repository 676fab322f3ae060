package engine

import (
	"slices"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// ChangeReport lists the keys a single relation write touched.
//
//   - Attached: related keys newly associated with the owner.
//   - Detached: related keys no longer associated (for has_one and has_many
//     the rows were deleted).
//   - Created: related rows inserted by this write.
//   - Updated: existing child rows whose columns changed (has_one,
//     has_many, deep belongs_to) or kept pivot rows whose attributes changed
//     (belongs_to_many).
//
// Every list is sorted and never nil.
type ChangeReport struct {
	Attached []ir.Key `json:"attached"`
	Detached []ir.Key `json:"detached"`
	Created  []ir.Key `json:"created"`
	Updated  []ir.Key `json:"updated"`
}

// Empty reports whether the write changed nothing.
func (r ChangeReport) Empty() bool {
	return len(r.Attached) == 0 && len(r.Detached) == 0 && len(r.Created) == 0 && len(r.Updated) == 0
}

func (r ChangeReport) normalize() ChangeReport {
	return ChangeReport{
		Attached: sortedKeys(r.Attached),
		Detached: sortedKeys(r.Detached),
		Created:  sortedKeys(r.Created),
		Updated:  sortedKeys(r.Updated),
	}
}

func sortedKeys(keys []ir.Key) []ir.Key {
	out := append([]ir.Key{}, keys...)
	slices.Sort(out)
	return slices.Compact(out)
}

// RelationReport is the ChangeReport of one relation write, addressed by its
// path from the root, e.g. "Post.comments[0].tags".
type RelationReport struct {
	Path     string              `json:"path"`
	Relation string              `json:"relation"`
	Kind     schema.RelationKind `json:"kind"`
	Report   ChangeReport        `json:"report"`
}

// Result is the outcome of a successful fill.
type Result struct {
	// Entity is the root entity, persisted.
	Entity *ir.Entity `json:"-"`

	// OperationID identifies the fill in logs and errors.
	OperationID string `json:"operation_id"`

	// Reports holds one entry per relation write, in execution order.
	// Nested writes appear before the write of the collection that
	// contains them completes.
	Reports []RelationReport `json:"reports"`
}

// Report returns the change report at path.
func (r *Result) Report(path string) (ChangeReport, bool) {
	for _, rr := range r.Reports {
		if rr.Path == path {
			return rr.Report, true
		}
	}
	return ChangeReport{}, false
}
