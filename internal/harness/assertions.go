package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Backend  string       // Backend whose trace was checked
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    *trace.Trace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Backend != "" {
		fmt.Fprintf(&buf, " (%s)", e.Backend)
	}
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Trace != nil {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace.Entries {
			fmt.Fprintf(&buf, "  [%d] %s\n", i, entry)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the report and returns
// one message per failed assertion. Traces are taken from the report; the
// oracle trace is used when an assertion names no backend.
func EvaluateAssertions(report *engine.Report, assertions []Assertion, tolerances compare.ToleranceSpec) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(report, a, tolerances); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func evaluateAssertion(report *engine.Report, a Assertion, tolerances compare.ToleranceSpec) error {
	if a.Type == AssertVerdict {
		return assertVerdict(report, a)
	}

	backendName := a.Backend
	if backendName == "" {
		backendName = report.Oracle
	}
	run := report.Run(backendName)
	if run == nil || run.Trace == nil {
		return &AssertionError{
			Type:     a.Type,
			Backend:  backendName,
			Expected: fmt.Sprintf("a trace recorded by %s", backendName),
			Actual:   "backend did not run",
		}
	}
	tr := run.Trace

	switch a.Type {
	case AssertTraceCount:
		return assertTraceCount(tr, a)
	case AssertTraceOrder:
		return assertTraceOrder(tr, a)
	case AssertTraceLength:
		return assertTraceLength(tr, a)
	case AssertOracleOutput:
		return assertOracleOutput(tr, a, tolerances)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertTraceCount checks if the method was invoked exactly Count times.
func assertTraceCount(tr *trace.Trace, a Assertion) error {
	count := 0
	for _, e := range tr.Entries {
		if e.Method == a.Method {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Backend:  tr.Backend,
			Expected: fmt.Sprintf("%d invocations of %s", a.Count, a.Method),
			Actual:   fmt.Sprintf("%d invocations", count),
			Trace:    tr,
		}
	}
	return nil
}

// assertTraceOrder checks if methods appear in the specified order.
// Invocations don't need to be consecutive (intervening calls are allowed),
// and a method listed twice must be invoked twice.
func assertTraceOrder(tr *trace.Trace, a Assertion) error {
	next := 0
	last := -1
	for i, e := range tr.Entries {
		if next < len(a.Methods) && e.Method == a.Methods[next] {
			next++
			last = i
		}
	}
	if next == len(a.Methods) {
		return nil
	}

	actual := fmt.Sprintf("%s not found after position %d", a.Methods[next], last)
	if last < 0 {
		actual = fmt.Sprintf("%s not found", a.Methods[next])
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Backend:  tr.Backend,
		Expected: fmt.Sprintf("methods in order: %v", a.Methods),
		Actual:   actual,
		Trace:    tr,
	}
}

// assertTraceLength checks the total number of recorded invocations.
func assertTraceLength(tr *trace.Trace, a Assertion) error {
	if tr.Len() != a.Count {
		return &AssertionError{
			Type:     AssertTraceLength,
			Backend:  tr.Backend,
			Expected: fmt.Sprintf("%d invocations", a.Count),
			Actual:   fmt.Sprintf("%d invocations", tr.Len()),
			Trace:    tr,
		}
	}
	return nil
}

// assertOracleOutput checks one output value under the tolerance policy.
func assertOracleOutput(tr *trace.Trace, a Assertion, tolerances compare.ToleranceSpec) error {
	want, err := a.Expect.Tensor()
	if err != nil {
		return err
	}
	if a.Position >= tr.Len() {
		return &AssertionError{
			Type:     AssertOracleOutput,
			Backend:  tr.Backend,
			Expected: fmt.Sprintf("an invocation at position %d", a.Position),
			Actual:   fmt.Sprintf("%d invocations", tr.Len()),
			Trace:    tr,
		}
	}
	entry := tr.Entries[a.Position]
	if a.Output >= len(entry.Outputs) {
		return &AssertionError{
			Type:     AssertOracleOutput,
			Backend:  tr.Backend,
			Expected: fmt.Sprintf("output %d of %s", a.Output, entry.Method),
			Actual:   fmt.Sprintf("%d outputs", len(entry.Outputs)),
			Trace:    tr,
		}
	}

	got := entry.Outputs[a.Output]
	m, err := compare.CompareValues(want, got, tolerances)
	if err != nil {
		return err
	}
	if m != nil {
		m.Position, m.Method, m.Output = a.Position, entry.Method, a.Output
		return &AssertionError{
			Type:     AssertOracleOutput,
			Backend:  tr.Backend,
			Expected: fmt.Sprintf("%s output %d at position %d = %s", entry.Method, a.Output, a.Position, want),
			Actual:   fmt.Sprintf("%s (%s)", got, m.Error()),
			Trace:    tr,
		}
	}
	return nil
}

// assertVerdict checks the scenario verdict.
func assertVerdict(report *engine.Report, a Assertion) error {
	if string(report.Verdict) == a.Verdict {
		return nil
	}
	actual := string(report.Verdict)
	if failures := report.Failures(); len(failures) > 0 {
		actual += ": " + strings.Join(failures, "; ")
	}
	return &AssertionError{
		Type:     AssertVerdict,
		Expected: a.Verdict,
		Actual:   actual,
	}
}

// expectedVerdict is Passed unless a verdict assertion names another one.
func expectedVerdict(assertions []Assertion) (engine.Verdict, bool) {
	for _, a := range assertions {
		if a.Type == AssertVerdict {
			return engine.Verdict(a.Verdict), true
		}
	}
	return engine.VerdictPassed, false
}
