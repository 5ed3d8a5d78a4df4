package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// rejectingBackend refuses to compile anything.
type rejectingBackend struct{}

func (rejectingBackend) Name() string        { return "cli-rejecting" }
func (rejectingBackend) Description() string { return "rejects every program" }
func (rejectingBackend) Compile(context.Context, *ir.Program) (backend.Executable, error) {
	return nil, errors.New("unsupported operation")
}

func init() {
	backend.Register("cli-rejecting", func(backend.Config) (backend.Backend, error) {
		return rejectingBackend{}, nil
	})
}

var controlFlowProgram = filepath.Join("..", "harness", "testdata", "programs", "control_flow.cue")

func execCompile(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestCompileProgram(t *testing.T) {
	out, err := execCompile(t, "text", controlFlowProgram, "--backends", "interp,vm")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Program control_flow")
	assert.Contains(t, out, "collatz(a float32[]) -> (float32[])")
	assert.Contains(t, out, "harmonic(n float32[]) -> (float32[])")
	assert.Contains(t, out, "✓ compiled")
	assert.NotContains(t, out, "✗")
}

func TestCompileProgramJSON(t *testing.T) {
	out, err := execCompile(t, "json", controlFlowProgram, "--backends", "interp,vm,interp-f16")
	require.NoError(t, err, out)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "control_flow", resp.Data.Program)
	assert.NotEmpty(t, resp.Data.Fingerprint)
	assert.Len(t, resp.Data.Methods, 2)
	require.Len(t, resp.Data.Backends, 3)
	for _, bc := range resp.Data.Backends {
		assert.True(t, bc.OK, bc.Backend)
	}
}

func TestCompileDefaultsToEveryBackend(t *testing.T) {
	out, err := execCompile(t, "json", controlFlowProgram)
	require.Error(t, err, "cli-rejecting is registered")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string            `json:"status"`
		Error  *CLIError         `json:"error"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCompileFailed, resp.Error.Code)

	var names []string
	for _, bc := range resp.Data.Backends {
		names = append(names, bc.Backend)
		if bc.Backend == "cli-rejecting" {
			assert.False(t, bc.OK)
			assert.Equal(t, "unsupported operation", bc.Error)
		}
	}
	assert.Equal(t, backend.Names(), names)
}

func TestCompileUnknownBackend(t *testing.T) {
	out, err := execCompile(t, "text", controlFlowProgram, "--backends", "gpu")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `✗ unknown backend "gpu"`)
}

func TestCompileMissingFile(t *testing.T) {
	out, err := execCompile(t, "text", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "program file not found")
}

func TestCompileInvalidProgram(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no methods",
			src:  `program: {name: "empty"}`,
			want: "at least one method is required",
		},
		{
			name: "ill-typed return",
			src: `program: {
	name: "bad"
	methods: f: {
		inputs: [{name: "a", dtype: "float32"}]
		outputs: [{dtype: "float32"}]
		body: [{return: ["a > 1"]}]
	}
}`,
			want: "return value 0 has shape bool[]",
		},
		{
			name: "syntax error",
			src:  `program: {`,
			want: "program.cue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProgram(t, tt.src)

			out, err := execCompile(t, "text", path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "✗ Compilation failed")
			assert.Contains(t, out, ErrCodeCompileFailed)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestCompileInvalidProgramJSON(t *testing.T) {
	path := writeProgram(t, `program: {name: "empty"}`)

	out, err := execCompile(t, "json", path)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCompileFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "at least one method is required")
}
