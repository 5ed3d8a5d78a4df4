package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/harness"
	"github.com/roach88/difftrace/internal/store"
	"github.com/roach88/difftrace/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Backends   []string
	Oracle     string
	Timeout    time.Duration
	MaxSteps   int
	Database   string
	Filter     string // glob on the scenario file name, without extension
	ReportAll  bool
	Update     bool // rewrite golden files instead of comparing

	// IDGenerator overrides the report id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name       string         `json:"name"`
	File       string         `json:"file"`
	RunID      string         `json:"run_id,omitempty"`
	Verdict    engine.Verdict `json:"verdict,omitempty"`
	Pass       bool           `json:"pass"`
	Backends   []string       `json:"backends,omitempty"`
	Mismatches int            `json:"mismatches"`
	ElapsedMS  int64          `json:"elapsed_ms"`
	Golden     string         `json:"golden,omitempty"` // "matched", "updated", "mismatch" or empty
	Errors     []string       `json:"errors,omitempty"`
}

// RunResult holds the overall run result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Oracle    string           `json:"oracle"`
	Backends  []string         `json:"backends"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenarios-dir>",
		Short: "Run scenarios on every backend and compare against the oracle",
		Long: `Run every scenario file in a directory on each configured backend,
compare each candidate trace against the oracle trace, and check the
scenario's expects, assertions and golden file.

Golden files live next to the scenarios in golden/<file>.golden and hold
the oracle trace as canonical JSON.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed or errored
  2 - Command error (invalid paths, bad configuration, etc.)

Examples:
  difftrace run ./scenarios
  difftrace run ./scenarios --backends interp,vm,interp-f16 --oracle interp
  difftrace run ./scenarios --filter "collatz*" --db ./runs.db
  difftrace run ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML session config")
	cmd.Flags().StringSliceVar(&opts.Backends, "backends", nil, "backends to run, in report order")
	cmd.Flags().StringVar(&opts.Oracle, "oracle", "", "reference backend")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", engine.DefaultTimeout, "per-invocation timeout (0 disables)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "loop iteration limit per invocation (0 disables)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist reports to this SQLite database")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.ReportAll, "report-all", false, "record every divergence instead of the first")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

// sessionConfig loads the config file, if any, and applies explicitly set flags on top.
func (o *RunOptions) sessionConfig(cmd *cobra.Command) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := engine.LoadConfig(o.ConfigPath)
		if err != nil {
			return engine.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backends") {
		cfg.Backends = o.Backends
	}
	if flags.Changed("oracle") {
		cfg.Oracle = o.Oracle
	}
	if flags.Changed("timeout") {
		cfg.TimeoutPerInvocation = o.Timeout
	}
	if flags.Changed("max-steps") {
		cfg.MaxSteps = o.MaxSteps
	}
	if flags.Changed("report-all") {
		cfg.ReportAll = o.ReportAll
	}
	return cfg, cfg.Validate()
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, dir string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("scenarios directory not found: %s", dir))
	}

	cfg, err := opts.sessionConfig(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidConfig, err)
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)

	ids := opts.IDGenerator
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	session, err := engine.NewSession(cfg, engine.WithLogger(logger), engine.WithIDGenerator(ids))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidConfig, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Error("closing session", "error", closeErr)
		}
	}()

	var hopts []harness.Option
	hopts = append(hopts, harness.WithLogger(logger))
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("closing database", "error", closeErr)
			}
		}()
		hopts = append(hopts, harness.WithStore(st))
	}
	h := harness.New(session, hopts...)

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Oracle:    cfg.Oracle,
		Backends:  cfg.Backends,
		Total:     len(files),
	}
	for _, file := range files {
		if ctx.Err() != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, fmt.Errorf("run interrupted: %w", ctx.Err()))
		}
		sr := runScenarioFile(ctx, h, file, opts.Update)
		formatter.VerboseLog("%s: pass=%v verdict=%s", sr.Name, sr.Pass, sr.Verdict)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	if opts.Format == "json" {
		return outputRunJSON(formatter, result)
	}
	return outputRunText(formatter, result)
}

// findScenarioFiles returns the YAML files under dir, in lexical order,
// whose base name without extension matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(d.Name(), ext)
			if ok, _ := filepath.Match(filter, name); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}
	return files, nil
}

// runScenarioFile loads, runs and golden-checks one scenario file.
func runScenarioFile(ctx context.Context, h *harness.Harness, file string, update bool) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("load: %v", err)}
		return sr
	}
	sr.Name = sc.Name

	res, err := h.Run(ctx, sc)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("run: %v", err)}
		return sr
	}

	report := res.Report
	sr.RunID = report.ID
	sr.Verdict = report.Verdict
	sr.ElapsedMS = report.Elapsed.Milliseconds()
	for _, run := range report.Runs {
		sr.Backends = append(sr.Backends, run.Backend)
	}
	for _, c := range report.Comparisons {
		sr.Mismatches += len(c.Mismatches)
	}
	sr.Pass = res.Pass
	sr.Errors = append(sr.Errors, res.Errors...)

	golden := goldenFilePath(file)
	switch {
	case update:
		if err := writeGolden(golden, res); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
			return sr
		}
		sr.Golden = "updated"
	default:
		matched, err := compareGolden(golden, res)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// no golden file: expects and assertions only
		case err != nil:
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
		case !matched:
			sr.Pass = false
			sr.Golden = "mismatch"
			sr.Errors = append(sr.Errors, "oracle trace does not match golden file (run with --update to regenerate)")
		default:
			sr.Golden = "matched"
		}
	}
	return sr
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func goldenBytes(res *harness.Result) ([]byte, error) {
	if res.Trace == nil {
		return nil, fmt.Errorf("no oracle trace (verdict %s)", res.Verdict)
	}
	return trace.MarshalCanonical(res.Trace)
}

func writeGolden(path string, res *harness.Result) error {
	data, err := goldenBytes(res)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

// compareGolden reports whether the oracle trace is byte-identical to the
// golden file. A missing file is returned as fs.ErrNotExist.
func compareGolden(path string, res *harness.Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	got, err := goldenBytes(res)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}

func outputRunJSON(f *OutputFormatter, result RunResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeScenarioFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := f.Response(resp); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputRunText(f *OutputFormatter, result RunResult) error {
	w := f.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	table := f.Table("SCENARIO", "VERDICT", "BACKENDS", "MISMATCHES", "TIME", "RESULT")
	for _, sr := range result.Scenarios {
		status := "✓"
		if !sr.Pass {
			status = "✗"
		}
		verdict := string(sr.Verdict)
		if verdict == "" {
			verdict = "-"
		}
		table.Append([]string{
			sr.Name,
			verdict,
			strings.Join(sr.Backends, ","),
			humanize.Comma(int64(sr.Mismatches)),
			(time.Duration(sr.ElapsedMS) * time.Millisecond).String(),
			status,
		})
	}
	table.Render()

	for _, sr := range result.Scenarios {
		if len(sr.Errors) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n✗ %s (%s)\n", sr.Name, sr.File)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d total (oracle %s)\n",
		result.Passed, result.Failed, result.Total, result.Oracle)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
