package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/store"
	"github.com/roach88/difftrace/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Backend  string // optional: show only this backend's trace
	Limit    int
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show stored runs and their traces",
		Long: `Show runs persisted by "difftrace run --db".

Without a run id, lists stored runs, newest first. With a run id, shows
every backend's trace, its state and the divergences found against the
oracle.

Examples:
  difftrace trace --db ./runs.db
  difftrace trace --db ./runs.db 0192f3c4-...
  difftrace trace --db ./runs.db 0192f3c4-... --backend vm
  difftrace trace --db ./runs.db 0192f3c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runTrace(cmd, opts, runID)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "show only this backend's trace")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to list (0 for all)")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions, runID string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// store.Open would create a fresh database; a missing file is a usage error here.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("database not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if runID == "" {
		return listRuns(ctx, formatter, st, opts.Limit)
	}
	if opts.Backend != "" {
		return showTrace(ctx, formatter, st, runID, opts.Backend)
	}
	return showRun(ctx, formatter, st, runID)
}

func listRuns(ctx context.Context, f *OutputFormatter, st *store.Store, limit int) error {
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, err)
	}
	if f.Format == "json" {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs stored.")
		return nil
	}
	table := f.Table("ID", "SCENARIO", "VERDICT", "BACKENDS", "MISMATCHES", "STARTED")
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Scenario,
			string(r.Verdict),
			humanize.Comma(int64(r.Backends)),
			humanize.Comma(int64(r.Mismatches)),
			humanize.Time(r.StartedAt),
		})
	}
	table.Render()
	return nil
}

func showRun(ctx context.Context, f *OutputFormatter, st *store.Store, runID string) error {
	report, err := st.ReadRun(ctx, runID)
	if store.IsNotFound(err) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("run not found: %s", runID))
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, err)
	}
	if f.Format == "json" {
		return f.Success(report)
	}
	outputRunReport(f, report)
	return nil
}

func showTrace(ctx context.Context, f *OutputFormatter, st *store.Store, runID, backendName string) error {
	tr, err := st.ReadTrace(ctx, runID, backendName)
	if store.IsNotFound(err) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("no trace for backend %q in run %s", backendName, runID))
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, err)
	}
	if f.Format == "json" {
		return f.Success(tr)
	}
	writeEntries(f, tr)
	return nil
}

func outputRunReport(f *OutputFormatter, r *engine.Report) {
	w := f.Writer
	fmt.Fprintf(w, "Run %s\n", r.ID)
	fmt.Fprintf(w, "  scenario: %s\n", r.Scenario)
	fmt.Fprintf(w, "  program:  %s (%s)\n", r.Program, r.Fingerprint)
	fmt.Fprintf(w, "  oracle:   %s\n", r.Oracle)
	fmt.Fprintf(w, "  verdict:  %s\n", r.Verdict)
	fmt.Fprintf(w, "  started:  %s (%s)\n", humanize.Time(r.StartedAt), r.Elapsed)

	for _, run := range r.Runs {
		fmt.Fprintln(w)
		role := "candidate"
		if run.Backend == r.Oracle {
			role = "oracle"
		}
		fmt.Fprintf(w, "%s [%s] %s, %s\n", run.Backend, role, run.State,
			humanize.Comma(int64(run.Trace.Len()))+" entries")
		if run.ErrorCode != "" {
			fmt.Fprintf(w, "  error %s: %s\n", run.ErrorCode, run.ErrorMessage)
		}
		if f.Verbose {
			writeEntries(f, run.Trace)
		}
	}

	if len(r.Comparisons) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Comparisons:")
	}
	for _, c := range r.Comparisons {
		status := "✓ match"
		if !c.Pass {
			status = fmt.Sprintf("✗ %d mismatch(es)", len(c.Mismatches))
		}
		fmt.Fprintf(w, "  %s vs %s: %s (%d compared, max abs error %g)\n",
			c.Candidate, c.Reference, status, c.Compared, c.MaxAbsError)
		for _, m := range c.Mismatches {
			fmt.Fprintf(w, "    %s\n", m.Error())
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
}

func writeEntries(f *OutputFormatter, tr *trace.Trace) {
	if tr.Len() == 0 {
		fmt.Fprintln(f.Writer, "  (no entries)")
		return
	}
	for _, e := range tr.Entries {
		fmt.Fprintf(f.Writer, "  %s\n", strings.TrimSpace(e.String()))
	}
}
