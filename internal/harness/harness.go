package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/roach88/difftrace/internal/backend/interp"
	_ "github.com/roach88/difftrace/internal/backend/vm"
	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/compiler"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/store"
	"github.com/roach88/difftrace/internal/testutil"
)

// Harness is the scenario execution engine. It turns scenario steps into a
// scenario function, runs it through a session and checks the result.
//
// Scenarios that name the same program file share one *ir.Program, so the
// session compiles that program once per backend for all of them.
type Harness struct {
	session *engine.Session
	store   *store.Store
	logger  *slog.Logger

	mu       sync.Mutex
	programs map[string]*ir.Program
}

// Option configures a Harness.
type Option func(*Harness)

// WithStore persists every report and reads the oracle trace back from the
// store, so golden files snapshot exactly what was stored.
func WithStore(st *store.Store) Option {
	return func(h *Harness) {
		h.store = st
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a harness over session. The session stays owned by the caller.
func New(session *engine.Session, opts ...Option) *Harness {
	h := &Harness{
		session:  session,
		logger:   slog.Default(),
		programs: make(map[string]*ir.Program),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Program loads and caches the CUE program at path.
func (h *Harness) Program(path string) (*ir.Program, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.programs[path]; ok {
		return p, nil
	}
	p, err := compiler.LoadProgramFile(path)
	if err != nil {
		return nil, err
	}
	h.programs[path] = p
	return p, nil
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Load (or reuse) the scenario's program
//  2. Run the steps on every session backend and compare against the oracle
//  3. Persist the report when a store is configured
//  4. Check step expects against the oracle trace
//  5. Evaluate assertions and the expected verdict
//
// Divergences and backend failures are reported in the Result. The error is
// reserved for scenarios that cannot run at all.
func (h *Harness) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	prog, err := h.Program(sc.Program)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	fn, err := stepsFunc(sc.Steps)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	report, err := h.session.RunScenario(ctx, engine.Scenario{Name: sc.Name, Program: prog, Func: fn})
	if err != nil {
		return nil, err
	}
	result := NewResult(report)

	if h.store != nil {
		if err := h.store.WriteReport(ctx, report); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		tr, err := h.store.ReadTrace(ctx, report.ID, report.Oracle)
		switch {
		case store.IsNotFound(err):
			result.Trace = nil
		case err != nil:
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		default:
			result.Trace = tr
		}
	}

	tolerances := h.session.Config().Tolerances
	want, explicit := expectedVerdict(sc.Assertions)
	if !explicit && report.Verdict != want {
		msg := fmt.Sprintf("verdict: expected %s, got %s", want, report.Verdict)
		if failures := report.Failures(); len(failures) > 0 {
			msg += ": " + strings.Join(failures, "; ")
		}
		result.AddError(msg)
	}

	for _, msg := range checkExpects(sc.Steps, result, tolerances) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(report, sc.Assertions, tolerances) {
		result.AddError(msg)
	}

	h.logger.Info("scenario checked",
		"scenario", sc.Name,
		"verdict", report.Verdict,
		"pass", result.Pass,
		"errors", len(result.Errors),
	)
	return result, nil
}

// RunAll runs scenarios in order. A scenario that cannot run gets an Errored
// result carrying the error; it never stops the ones after it.
func (h *Harness) RunAll(ctx context.Context, scenarios []*Scenario) []*Result {
	results := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		r, err := h.Run(ctx, sc)
		if err != nil {
			h.logger.Warn("scenario could not run", "scenario", sc.Name, "error", err)
			r = NewResult(nil)
			r.Verdict = engine.VerdictErrored
			r.AddError(err.Error())
		}
		results = append(results, r)
	}
	return results
}

// Run executes a scenario on the default backends (interp as oracle, vm as
// candidate) in a fresh in-memory store with deterministic report ids.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	logger := slog.New(slog.DiscardHandler) // Suppress logs in tests

	session, err := engine.NewSession(engine.DefaultConfig(),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("")),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	return New(session, WithStore(st), WithLogger(logger)).Run(ctx, sc)
}

// stepsFunc converts steps to a scenario function. Literals are converted
// once and shared; backends receive clones.
func stepsFunc(steps []Step) (engine.ScenarioFunc, error) {
	type call struct {
		method string
		inputs []*ir.Tensor
	}
	calls := make([]call, len(steps))
	for i, step := range steps {
		calls[i].method = step.Call
		for j, lit := range step.Inputs {
			t, err := lit.Tensor()
			if err != nil {
				return nil, fmt.Errorf("steps[%d].inputs[%d]: %w", i, j, err)
			}
			calls[i].inputs = append(calls[i].inputs, t)
		}
	}

	return func(ctx context.Context, m *engine.Module) error {
		for _, c := range calls {
			if _, err := m.Call(ctx, c.method, c.inputs...); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// checkExpects compares each step's expect literals with the oracle's
// outputs at the same position.
func checkExpects(steps []Step, result *Result, tolerances compare.ToleranceSpec) []string {
	var errs []string
	tr := result.Trace
	for i, step := range steps {
		if len(step.Expect) == 0 {
			continue
		}
		if i >= tr.Len() {
			errs = append(errs, fmt.Sprintf("steps[%d] %s: oracle recorded no result", i, step.Call))
			continue
		}
		outputs := tr.Entries[i].Outputs
		if len(step.Expect) != len(outputs) {
			errs = append(errs, fmt.Sprintf("steps[%d] %s: expected %d outputs, got %d", i, step.Call, len(step.Expect), len(outputs)))
			continue
		}
		for j, lit := range step.Expect {
			want, err := lit.Tensor()
			if err != nil {
				errs = append(errs, fmt.Sprintf("steps[%d].expect[%d]: %v", i, j, err))
				continue
			}
			m, err := compare.CompareValues(want, outputs[j], tolerances)
			if err != nil {
				errs = append(errs, fmt.Sprintf("steps[%d].expect[%d]: %v", i, j, err))
				continue
			}
			if m != nil {
				m.Position, m.Method, m.Output = i, step.Call, j
				errs = append(errs, fmt.Sprintf("steps[%d] %s: %s", i, step.Call, m.Error()))
			}
		}
	}
	return errs
}
