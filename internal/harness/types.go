package harness

import (
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/trace"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: the verdict is the expected one
	// (Passed unless a verdict assertion says otherwise), every step expect
	// matched and every assertion held.
	Pass bool `json:"pass"`

	// Verdict is the session verdict for the scenario.
	Verdict engine.Verdict `json:"verdict"`

	// Report is the full session report.
	Report *engine.Report `json:"report"`

	// Trace is the oracle trace, as read back from the store when the
	// harness has one. Used for golden comparison.
	Trace *trace.Trace `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result for report.
func NewResult(report *engine.Report) *Result {
	r := &Result{
		Pass:   true,
		Report: report,
		Errors: []string{},
	}
	if report != nil {
		r.Verdict = report.Verdict
		r.Trace = report.OracleTrace()
	}
	return r
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
