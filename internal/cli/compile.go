package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/compiler"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Backends []string
	MaxSteps int
}

// BackendCompile is the outcome of compiling the program on one backend.
type BackendCompile struct {
	Backend   string `json:"backend"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ElapsedUS int64  `json:"elapsed_us"`
}

// CompilationResult contains the checked program and per-backend outcomes.
type CompilationResult struct {
	Program     string           `json:"program"`
	Fingerprint string           `json:"fingerprint"`
	Methods     []string         `json:"methods"` // signatures, declaration order
	Backends    []BackendCompile `json:"backends"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program.cue>",
		Short: "Type-check a program and compile it on every backend",
		Long: `Load a CUE program definition, type-check every method and compile
the program on each requested backend.

Exit codes:
  0 - Program compiled on every backend
  1 - At least one backend failed to compile the program
  2 - The program could not be loaded or type-checked

Examples:
  difftrace compile ./programs/control_flow.cue
  difftrace compile ./programs/control_flow.cue --backends interp,interp-f16 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringSliceVar(&opts.Backends, "backends", nil, "backends to compile on (default: every registered backend)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "loop iteration limit passed to each backend")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions, path string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("program file not found: %s", path))
	}

	prog, err := compiler.LoadProgramFile(path)
	if err != nil {
		return outputCompileError(formatter, err)
	}

	names := opts.Backends
	if len(names) == 0 {
		names = backend.Names()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := &CompilationResult{
		Program:     prog.Name(),
		Fingerprint: prog.Fingerprint(),
		Methods:     signatures(prog),
	}
	failed := 0
	for _, name := range names {
		formatter.VerboseLog("Compiling %s on %s", prog.Name(), name)
		bc := compileOn(ctx, name, backend.Config{MaxSteps: opts.MaxSteps}, prog)
		if !bc.OK {
			failed++
		}
		result.Backends = append(result.Backends, bc)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeCompileFailed, Message: fmt.Sprintf("%d backend(s) failed to compile", failed)}
		}
		if err := formatter.Response(resp); err != nil {
			return err
		}
	} else {
		outputCompileText(formatter, result)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d backend(s) failed to compile", failed))
	}
	return nil
}

func compileOn(ctx context.Context, name string, cfg backend.Config, prog *ir.Program) BackendCompile {
	bc := BackendCompile{Backend: name}
	b, err := backend.New(name, cfg)
	if err != nil {
		bc.Error = err.Error()
		return bc
	}
	start := time.Now()
	exe, err := b.Compile(ctx, prog)
	bc.ElapsedUS = time.Since(start).Microseconds()
	if err != nil {
		bc.Error = err.Error()
		return bc
	}
	if err := exe.Close(); err != nil {
		bc.Error = fmt.Sprintf("close: %v", err)
		return bc
	}
	bc.OK = true
	return bc
}

func signatures(prog *ir.Program) []string {
	methods := prog.Methods()
	out := make([]string, len(methods))
	for i := range methods {
		out[i] = methods[i].Signature()
	}
	return out
}

func outputCompileText(f *OutputFormatter, result *CompilationResult) {
	w := f.Writer
	fmt.Fprintf(w, "Program %s (%s)\n\n", result.Program, result.Fingerprint)
	fmt.Fprintln(w, "Methods:")
	for _, sig := range result.Methods {
		fmt.Fprintf(w, "  %s\n", sig)
	}
	fmt.Fprintln(w)

	table := f.Table("BACKEND", "STATUS", "TIME")
	for _, bc := range result.Backends {
		status := "✓ compiled"
		if !bc.OK {
			status = "✗ " + bc.Error
		}
		table.Append([]string{bc.Backend, status, (time.Duration(bc.ElapsedUS) * time.Microsecond).String()})
	}
	table.Render()
}

// outputCompileError reports a program that failed to load or type-check.
// Positions from the CUE source are printed in text mode.
func outputCompileError(f *OutputFormatter, err error) error {
	var details any
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		details = map[string]any{
			"file":   compileErr.Pos.Filename(),
			"line":   compileErr.Pos.Line(),
			"column": compileErr.Pos.Column(),
		}
	}
	if f.Format != "json" {
		fmt.Fprintln(f.Writer, "✗ Compilation failed")
	}
	_ = f.Error(ErrCodeCompileFailed, err.Error(), details)
	return WrapExitError(ExitCommandError, "compilation failed", err)
}
