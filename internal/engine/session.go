package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// Verdict is the terminal outcome of a scenario.
type Verdict string

const (
	// VerdictPassed: every candidate trace matched the oracle trace.
	VerdictPassed Verdict = "Passed"

	// VerdictFailed: a candidate diverged from the oracle, or the oracle
	// itself failed.
	VerdictFailed Verdict = "Failed"

	// VerdictErrored: no divergence was found, but a candidate errored and
	// was excluded from comparison.
	VerdictErrored Verdict = "Errored"
)

// Scenario is a named sequence of invocations against a program.
type Scenario struct {
	Name    string
	Program *ir.Program
	Func    ScenarioFunc
}

// Report is the outcome of one scenario across every configured backend.
type Report struct {
	ID          string            `json:"id"`
	Scenario    string            `json:"scenario"`
	Program     string            `json:"program"`
	Fingerprint string            `json:"fingerprint"`
	Oracle      string            `json:"oracle"`
	Verdict     Verdict           `json:"verdict"`
	Runs        []*BackendRun     `json:"runs"`
	Comparisons []*compare.Result `json:"comparisons"`
	Errors      []*Error          `json:"errors,omitempty"`

	StartedAt time.Time     `json:"-"`
	Elapsed   time.Duration `json:"-"`
}

// Run returns the run of the named backend, or nil.
func (r *Report) Run(backendName string) *BackendRun {
	for _, run := range r.Runs {
		if run.Backend == backendName {
			return run
		}
	}
	return nil
}

// OracleTrace returns the oracle's trace, or nil when the oracle did not run.
func (r *Report) OracleTrace() *trace.Trace {
	if run := r.Run(r.Oracle); run != nil {
		return run.Trace
	}
	return nil
}

// Comparison returns the comparison of the named candidate, or nil.
func (r *Report) Comparison(candidate string) *compare.Result {
	for _, c := range r.Comparisons {
		if c.Candidate == candidate {
			return c
		}
	}
	return nil
}

// Failures describes every error and divergence, one line each.
func (r *Report) Failures() []string {
	var out []string
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	for _, c := range r.Comparisons {
		for _, m := range c.Mismatches {
			out = append(out, fmt.Sprintf("%s vs %s: %s", c.Candidate, c.Reference, m.Error()))
		}
	}
	return out
}

// Err returns nil when the scenario passed, otherwise an error joining
// every failure.
func (r *Report) Err() error {
	if r.Verdict == VerdictPassed {
		return nil
	}
	var errs []error
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	for _, c := range r.Comparisons {
		if err := c.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s vs %s: %w", c.Candidate, c.Reference, err))
		}
	}
	if len(errs) == 0 {
		return fmt.Errorf("scenario %s: %s", r.Scenario, r.Verdict)
	}
	return errors.Join(errs...)
}

// Session runs scenarios against a fixed set of backends, compiling each
// program at most once per backend for the whole session.
type Session struct {
	cfg       Config
	registry  *Registry
	runner    *Runner
	ids       IDGenerator
	logger    *slog.Logger
	compareOp []compare.Option
}

type sessionOptions struct {
	backends map[string]backend.Backend
	ids      IDGenerator
	logger   *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithBackend supplies a backend instance for the configured name b.Name()
// instead of constructing it from the backend registry.
func WithBackend(b backend.Backend) SessionOption {
	return func(o *sessionOptions) {
		o.backends[b.Name()] = b
	}
}

// WithIDGenerator sets the report id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) SessionOption {
	return func(o *sessionOptions) {
		o.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = l
	}
}

// NewSession validates cfg and constructs its backends.
func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	o := sessionOptions{
		backends: make(map[string]backend.Backend),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backends := make([]backend.Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		if b, ok := o.backends[name]; ok {
			backends = append(backends, b)
			continue
		}
		b, err := backend.New(name, backend.Config{MaxSteps: cfg.MaxSteps})
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		backends = append(backends, b)
	}

	reg, err := NewRegistry(backends,
		WithInvocationTimeout(cfg.TimeoutPerInvocation),
		WithRegistryLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		registry: reg,
		runner:   NewRunner(reg, o.logger),
		ids:      o.ids,
		logger:   o.logger,
	}
	if cfg.ReportAll {
		s.compareOp = append(s.compareOp, compare.WithReportAll())
	}
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Registry returns the session's compile cache.
func (s *Session) Registry() *Registry {
	return s.registry
}

// RunScenario runs sc on every backend, then compares each candidate trace
// with the oracle trace. Backend failures are reported in the Report, not
// returned; the error is reserved for scenarios that cannot run at all.
func (s *Session) RunScenario(ctx context.Context, sc Scenario) (*Report, error) {
	if sc.Program == nil {
		return nil, fmt.Errorf("scenario %q: no program", sc.Name)
	}
	start := time.Now()
	logger := s.logger.With("scenario", sc.Name)
	logger.Info("scenario running", "program", sc.Program.Name(), "backends", len(s.cfg.Backends))

	runs, err := s.runner.Run(ctx, sc.Program, sc.Name, sc.Func)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	report := &Report{
		ID:          s.ids.Generate(),
		Scenario:    sc.Name,
		Program:     sc.Program.Name(),
		Fingerprint: sc.Program.Fingerprint(),
		Oracle:      s.cfg.Oracle,
		Comparisons: []*compare.Result{},
		StartedAt:   start,
	}
	for pair := runs.Oldest(); pair != nil; pair = pair.Next() {
		report.Runs = append(report.Runs, pair.Value)
	}

	s.judge(report, logger)
	report.Elapsed = time.Since(start)
	logger.Info("scenario finished", "verdict", report.Verdict, "elapsed", report.Elapsed)
	return report, nil
}

// judge compares every completed candidate against the oracle and sets the verdict.
func (s *Session) judge(report *Report, logger *slog.Logger) {
	oracle := report.Run(s.cfg.Oracle)
	if oracle == nil || oracle.State != StateCompleted {
		var cause error = errors.New("oracle did not run")
		if oracle != nil && oracle.Err != nil {
			cause = oracle.Err
		}
		report.Errors = append(report.Errors, newOracleUnavailable(s.cfg.Oracle, cause))
		report.Verdict = VerdictFailed
		logger.Warn("oracle unavailable", "oracle", s.cfg.Oracle, "error", cause)
		return
	}

	logger.Debug("comparing", "oracle", s.cfg.Oracle)
	diverged, errored := false, false
	for _, run := range report.Runs {
		if run.Backend == s.cfg.Oracle {
			continue
		}
		if run.State != StateCompleted {
			errored = true
			report.Errors = append(report.Errors, asError(run))
			continue
		}
		res, err := compare.Compare(oracle.Trace, run.Trace, s.cfg.Tolerances, s.compareOp...)
		if err != nil {
			errored = true
			report.Errors = append(report.Errors, &Error{Code: ErrCodeRuntime, Message: err.Error(), Backend: run.Backend, Err: err})
			continue
		}
		report.Comparisons = append(report.Comparisons, res)
		if !res.Pass {
			diverged = true
			logger.Info("divergence", "backend", run.Backend, "mismatch", res.First.Error())
		}
	}

	switch {
	case diverged:
		report.Verdict = VerdictFailed
	case errored:
		report.Verdict = VerdictErrored
	default:
		report.Verdict = VerdictPassed
	}
}

func asError(run *BackendRun) *Error {
	var e *Error
	if errors.As(run.Err, &e) {
		return e
	}
	return &Error{Code: ErrCodeRuntime, Message: fmt.Sprint(run.Err), Backend: run.Backend, Err: run.Err}
}

// RunAll runs scenarios in order. A scenario that cannot run is reported as
// Errored; it never stops the ones after it.
func (s *Session) RunAll(ctx context.Context, scenarios []Scenario) []*Report {
	reports := make([]*Report, 0, len(scenarios))
	for _, sc := range scenarios {
		r, err := s.RunScenario(ctx, sc)
		if err != nil {
			r = &Report{
				ID:       s.ids.Generate(),
				Scenario: sc.Name,
				Oracle:   s.cfg.Oracle,
				Verdict:  VerdictErrored,
				Errors:   []*Error{{Code: ErrCodeRuntime, Message: err.Error(), Err: err}},
			}
			if sc.Program != nil {
				r.Program, r.Fingerprint = sc.Program.Name(), sc.Program.Fingerprint()
			}
		}
		reports = append(reports, r)
	}
	return reports
}

// Close releases every compiled instance.
func (s *Session) Close() error {
	return s.registry.Close()
}
