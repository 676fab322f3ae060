package harness

import (
	"github.com/roach88/relfill/internal/engine"
)

// StepTrace records what one step did.
type StepTrace struct {
	// Index is the step's position in the scenario.
	Index int `json:"step"`

	// Op describes the call, e.g. "create Post" or "fill Post#1".
	Op string `json:"op"`

	// Entity is the root entity after a successful step, e.g. "Post#1".
	Entity string `json:"entity,omitempty"`

	// OperationID identifies the fill.
	OperationID string `json:"operation_id,omitempty"`

	// Error is the error code of a failed step.
	Error string `json:"error,omitempty"`

	// Reports are the relation reports of a successful step.
	Reports []engine.RelationReport `json:"reports,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(st StepTrace) {
	r.Trace = append(r.Trace, st)
}
