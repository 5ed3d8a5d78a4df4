package harness

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/ir"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "collatz.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "collatz", s.Name)
	assert.Equal(t, filepath.Join("testdata", "programs", "control_flow.cue"), s.Program)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "collatz.yaml"), s.Path)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "collatz", s.Steps[0].Call)
	require.Len(t, s.Steps[0].Expect, 1)
	assert.Empty(t, s.Steps[1].Expect)

	require.Len(t, s.Assertions, 4)
	assert.Equal(t, AssertTraceCount, s.Assertions[0].Type)
	assert.Equal(t, []string{"collatz", "collatz"}, s.Assertions[1].Methods)
	assert.Equal(t, 1, s.Assertions[2].Position)
	assert.Equal(t, "vm", s.Assertions[3].Backend)

	in := s.Steps[0].Inputs[0].MustTensor()
	assert.True(t, in.BitEqual(ir.ScalarFloat32(9)))
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: based
description: "program resolved against a base path"
program: programs/control_flow.cue
steps:
  - call: collatz
    inputs: [{dtype: float32, value: 3}]
`), 0o644))

	s, err := LoadScenarioWithBasePath(path, "testdata")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "programs", "control_flow.cue"), s.Program)

	_, err = LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program file not found")
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "invalid", "unknown_field.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field stepz not found")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Validation(t *testing.T) {
	const head = "name: s\ndescription: d\nprogram: p.cue\n"
	const step = "steps:\n  - call: collatz\n    inputs: [{dtype: float32, value: 1}]\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nprogram: p.cue\n" + step, "name is required"},
		{"missing description", "name: s\nprogram: p.cue\n" + step, "description is required"},
		{"missing program", "name: s\ndescription: d\n" + step, "program is required"},
		{"no steps", head, "steps list is required"},
		{"step without call", head + "steps:\n  - inputs: []\n", "steps[0]: call is required"},
		{"bad dtype", head + "steps:\n  - call: f\n    inputs: [{dtype: float8, value: 1}]\n", "steps[0].inputs[0]"},
		{"value and values", head + "steps:\n  - call: f\n    inputs: [{dtype: float32, value: 1, values: [1]}]\n", "both value and values"},
		{"no value", head + "steps:\n  - call: f\n    inputs: [{dtype: float32}]\n", "needs value or values"},
		{"oversized dims", head + "steps:\n  - call: f\n    inputs: [{dtype: float32, dims: [3037000500, 3037000500], value: 1}]\n", "steps[0].inputs[0]: shape float32[3037000500,3037000500] exceeds"},
		{"bad expect", head + "steps:\n  - call: f\n    expect: [{dtype: int32, value: 1.5}]\n", "steps[0].expect[0]"},
		{"unknown assertion", head + step + "assertions:\n  - type: final_state\n", `unknown assertion type "final_state"`},
		{"assertion without type", head + step + "assertions:\n  - method: f\n", "assertions[0]: type is required"},
		{"trace_count without method", head + step + "assertions:\n  - type: trace_count\n    count: 1\n", "method is required for trace_count"},
		{"trace_order without methods", head + step + "assertions:\n  - type: trace_order\n", "methods list is required"},
		{"negative length", head + step + "assertions:\n  - type: trace_length\n    count: -1\n", "count must be non-negative"},
		{"oracle_output without expect", head + step + "assertions:\n  - type: oracle_output\n", "expect is required"},
		{"bad verdict", head + step + "assertions:\n  - type: verdict\n    verdict: Maybe\n", "verdict must be Passed, Failed or Errored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLiteralTensor(t *testing.T) {
	tests := []struct {
		name string
		lit  Literal
		want *ir.Tensor
	}{
		{"float scalar from int", Literal{DType: "float32", Value: 9}, ir.ScalarFloat32(9)},
		{"float scalar from float", Literal{DType: "float64", Value: 0.1}, ir.ScalarOf(ir.Float64, 0.1)},
		{"float16 rounds", Literal{DType: "float16", Value: 0.1}, ir.ScalarOf(ir.Float16, 0.1)},
		{"vector defaults dims", Literal{DType: "float32", Values: []any{1, 2.5, 3}}, ir.MustFromFloats(ir.Float32, []int{3}, 1, 2.5, 3)},
		{"matrix", Literal{DType: "float32", Dims: []int{2, 2}, Values: []any{1, 2, 3, 4}}, ir.MustFromFloats(ir.Float32, []int{2, 2}, 1, 2, 3, 4)},
		{"integral float to int", Literal{DType: "int32", Value: 7.0}, mustInts(t, ir.Int32, nil, 7)},
		{"int vector", Literal{DType: "int64", Values: []any{-1, 2}}, mustInts(t, ir.Int64, []int{2}, -1, 2)},
		{"bool", Literal{DType: "bool", Values: []any{true, false}}, mustBools(t, []int{2}, true, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lit.Tensor()
			require.NoError(t, err)
			assert.True(t, tt.want.BitEqual(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestLiteralTensor_NonFinite(t *testing.T) {
	got, err := Literal{DType: "float32", Values: []any{"NaN", "+Inf", "-Inf"}}.Tensor()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Float(0)))
	assert.True(t, math.IsInf(got.Float(1), 1))
	assert.True(t, math.IsInf(got.Float(2), -1))
}

func TestLiteralTensor_Errors(t *testing.T) {
	tests := []struct {
		name string
		lit  Literal
		want string
	}{
		{"fractional int", Literal{DType: "int32", Value: 1.5}, "not an integer"},
		{"string int", Literal{DType: "int32", Value: "3"}, "not an integer"},
		{"bool from number", Literal{DType: "bool", Value: 1}, "not a bool"},
		{"bad float string", Literal{DType: "float32", Value: "abc"}, "element 0"},
		{"dims mismatch", Literal{DType: "float32", Dims: []int{3}, Values: []any{1, 2}}, "needs 3 values"},
		{"unknown dtype", Literal{DType: "complex64", Value: 1}, "complex64"},
		{"too many elements", Literal{DType: "int32", Dims: []int{1 << 20, 1 << 20}, Value: 1}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.lit.Tensor()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"collatz", "collatz_edges", "harmonic"}, names)
}

func TestLoadScenarios_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	prog, err := filepath.Abs(filepath.Join("testdata", "programs", "control_flow.cue"))
	require.NoError(t, err)
	body := "name: same\ndescription: d\nprogram: " + prog + "\nsteps:\n  - call: collatz\n    inputs: [{dtype: float32, value: 1}]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	_, err = LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate scenario name "same"`)
}

func mustInts(t *testing.T, dtype ir.DType, dims []int, vals ...int64) *ir.Tensor {
	t.Helper()
	tt, err := ir.FromInts(dtype, dims, vals)
	require.NoError(t, err)
	return tt
}

func mustBools(t *testing.T, dims []int, vals ...bool) *ir.Tensor {
	t.Helper()
	tt, err := ir.FromBools(dims, vals)
	require.NoError(t, err)
	return tt
}
