package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/roach88/difftrace/internal/backend/interp"
	_ "github.com/roach88/difftrace/internal/backend/vm"
	"github.com/roach88/difftrace/internal/testutil"
)

const collatzScenario = `name: collatz
description: "Collatz step counts"
program: ../programs/control_flow.cue
steps:
  - call: collatz
    inputs: [{dtype: float32, value: 9}]
    expect: [{dtype: float32, value: 19}]
  - call: collatz
    inputs: [{dtype: float32, value: 27}]
    expect: [{dtype: float32, value: 111}]
`

const harmonicScenario = `name: harmonic
description: "Harmonic sums drift in reduced precision"
program: ../programs/control_flow.cue
steps:
  - call: harmonic
    inputs: [{dtype: float32, value: 100}]
`

const wrongExpectScenario = `name: wrong_expect
description: "Expects a value the program never produces"
program: ../programs/control_flow.cue
steps:
  - call: collatz
    inputs: [{dtype: float32, value: 9}]
    expect: [{dtype: float32, value: 20}]
`

// scenarioDir lays out <tmp>/programs/control_flow.cue and
// <tmp>/scenarios/<name>.yaml for each scenario and returns the scenarios dir.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()

	root := t.TempDir()
	program, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "programs", "control_flow.cue"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "programs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "programs", "control_flow.cue"), program, 0o644))

	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
	}
	return dir
}

// execRun runs the run command with a fixed report id and returns stdout.
func execRun(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: format},
		IDGenerator: testutil.NewFixedIDGenerator("run-1"),
	}
	cmd := newRunCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeRun parses a JSON run response.
func decodeRun(t *testing.T, out string) (CLIResponse, RunResult) {
	t.Helper()

	var resp struct {
		CLIResponse
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.CLIResponse, resp.Data
}
