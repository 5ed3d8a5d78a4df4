package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// ScenarioFunc drives one backend through a scenario. It is called once per
// backend, each time with a fresh Module, and must make its calls
// sequentially. Returning an error marks that backend Errored.
type ScenarioFunc func(ctx context.Context, m *Module) error

// BackendState is the lifecycle state of one backend's run.
type BackendState string

const (
	StatePending   BackendState = "Pending"
	StateRunning   BackendState = "Running"
	StateCompleted BackendState = "Completed"
	StateErrored   BackendState = "Errored"
)

// IsTerminal reports whether s is Completed or Errored.
func (s BackendState) IsTerminal() bool {
	return s == StateCompleted || s == StateErrored
}

// BackendRun is the outcome of running a scenario on one backend.
type BackendRun struct {
	Backend string       `json:"backend"`
	State   BackendState `json:"state"`

	// Trace holds the invocations that succeeded, also when the run Errored.
	Trace *trace.Trace `json:"trace"`

	// Err is set when State is Errored.
	Err error `json:"-"`

	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`

	Elapsed time.Duration `json:"-"`
}

func (r *BackendRun) fail(err error) {
	r.State = StateErrored
	r.Err = err
	r.ErrorCode = CodeOf(err)
	if r.ErrorCode == "" {
		r.ErrorCode = ErrCodeRuntime
	}
	r.ErrorMessage = err.Error()
}

// Runs maps backend name to its run, in configured backend order.
type Runs = orderedmap.OrderedMap[string, *BackendRun]

// Runner executes a scenario function on every backend of a registry in
// parallel, one goroutine per backend, and records a trace per backend.
//
// Runs are isolated: a failing or panicking backend never affects the
// others, and Run returns only after every backend reached a terminal state.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a runner over the registry's backends.
func NewRunner(r *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: r, logger: logger}
}

// Run compiles prog on every backend and runs fn against each.
func (r *Runner) Run(ctx context.Context, prog *ir.Program, scenario string, fn ScenarioFunc) (*Runs, error) {
	if prog == nil {
		return nil, fmt.Errorf("runner: nil program")
	}
	if fn == nil {
		return nil, fmt.Errorf("runner: nil scenario function")
	}

	names := r.registry.Backends()
	runs := orderedmap.New[string, *BackendRun]()
	for _, name := range names {
		runs.Set(name, &BackendRun{Backend: name, State: StatePending})
	}

	var g errgroup.Group
	g.SetLimit(max(len(names), 1))
	for pair := runs.Oldest(); pair != nil; pair = pair.Next() {
		run := pair.Value
		g.Go(func() error {
			r.runOne(ctx, prog, scenario, fn, run)
			return nil
		})
	}
	_ = g.Wait()
	return runs, nil
}

// runOne drives one backend to a terminal state. It owns run until it returns.
func (r *Runner) runOne(ctx context.Context, prog *ir.Program, scenario string, fn ScenarioFunc, run *BackendRun) {
	start := time.Now()
	logger := r.logger.With("scenario", scenario, "backend", run.Backend)
	rec := trace.NewRecorder(scenario, run.Backend, NewClock())

	run.State = StateRunning
	logger.Debug("backend run started")
	defer func() {
		run.Trace = rec.Snapshot()
		run.Elapsed = time.Since(start)
		logger.Debug("backend run finished", "state", run.State, "invocations", run.Trace.Len())
	}()

	inst, err := r.registry.Compile(ctx, prog, run.Backend)
	if err != nil {
		run.fail(err)
		return
	}

	m := newModule(inst, rec)
	err = callScenario(ctx, fn, m)
	if latched := m.Err(); latched != nil {
		err = latched
	}
	if err == nil && ctx.Err() != nil {
		err = &Error{Code: ErrCodeCancelled, Message: "run cancelled", Backend: run.Backend, Err: ctx.Err()}
	}
	if err != nil {
		if CodeOf(err) == "" {
			err = &Error{Code: ErrCodeRuntime, Message: err.Error(), Backend: run.Backend, Err: err}
		}
		logger.Warn("backend run errored", "error", err)
		run.fail(err)
		return
	}
	run.State = StateCompleted
}

func callScenario(ctx context.Context, fn ScenarioFunc, m *Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Code:    ErrCodeRuntime,
				Message: fmt.Sprintf("scenario panic: %v\n%s", r, debug.Stack()),
				Backend: m.Backend(),
			}
		}
	}()
	return fn(ctx, m)
}
