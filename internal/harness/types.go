package harness

import "github.com/roach88/revtrail/internal/audit"

// Step outcomes recorded in the trace.
const (
	OutcomeAudited = "audited"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// TraceEvent is one mutation and the revision it produced.
type TraceEvent struct {
	Step     int           `json:"step"`
	Op       string        `json:"op"`
	Model    string        `json:"model"`
	Ref      string        `json:"ref"`
	Outcome  string        `json:"outcome"`
	Revision int64         `json:"revision"`
	User     string        `json:"user,omitempty"`
	Changes  []TraceChange `json:"changes,omitempty"`
}

// TraceChange is one recorded change, with stringified values.
type TraceChange struct {
	Path     string         `json:"path"`
	Kind     string         `json:"kind"`
	Previous string         `json:"previous,omitempty"`
	Next     string         `json:"next,omitempty"`
	Ops      []audit.TextOp `json:"ops,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when no step or assertion failed.
	Pass bool `json:"pass"`

	// Trace lists every mutation in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
