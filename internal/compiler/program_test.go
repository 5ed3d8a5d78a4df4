package compiler

import (
	"errors"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/ir"
)

func TestLoadProgramFileControlFlow(t *testing.T) {
	p, err := LoadProgramFile(filepath.Join("testdata", "control_flow.cue"))
	require.NoError(t, err)

	assert.Equal(t, "control_flow", p.Name())
	assert.Equal(t, []string{"collatz"}, p.MethodNames())

	m, ok := p.Method("collatz")
	require.True(t, ok)
	assert.Equal(t, "collatz(a float32[]) -> (float32[])", m.Signature())
	require.Len(t, m.Body, 3)
	assert.IsType(t, ir.Assign{}, m.Body[0])
	assert.IsType(t, ir.While{}, m.Body[1])
	assert.IsType(t, ir.Return{}, m.Body[2])

	loop := m.Body[1].(ir.While)
	require.Len(t, loop.Body, 2)
	branch, ok := loop.Body[1].(ir.If)
	require.True(t, ok)
	assert.Len(t, branch.Then, 1)
	assert.Len(t, branch.Else, 1)
}

func TestCompileProgramMethodOrderAndDims(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		program: {
			name: "vectors"
			methods: {
				scale: {
					inputs: [{name: "x", dtype: "float64", dims: [3]}, {name: "k", dtype: "float64"}]
					outputs: [{dtype: "float64", dims: [3]}]
					body: [
						{set: "k", to: 2},
						{return: "x * k"},
					]
				}
				count: {
					inputs: [{name: "n", dtype: "int32"}]
					outputs: [{dtype: "int32"}, {dtype: "bool"}]
					body: [
						{set: "c", to: "int32(0)"},
						{while: "c < n", do: [{set: "c", to: "c + 1"}]},
						{return: ["c", "c == n"]},
					]
				}
			}
		}
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v.LookupPath(cue.ParsePath("program")))
	require.NoError(t, err)
	assert.Equal(t, []string{"scale", "count"}, p.MethodNames(), "methods keep declaration order")

	scale, _ := p.Method("scale")
	assert.Equal(t, ir.MakeShape(ir.Float64, 3), scale.Inputs[0].Shape)

	k := scale.Body[0].(ir.Assign)
	assert.Equal(t, ir.Const{Value: 2, DType: ir.Float64}, k.Expr, "bare CUE numbers take the variable's dtype")

	count, _ := p.Method("count")
	set := count.Body[0].(ir.Assign)
	assert.Equal(t, ir.Cast{DType: ir.Int32, X: ir.Const{Value: 0, DType: ir.Int32}}, set.Expr)
	assert.Equal(t, []ir.Shape{ir.Scalar(ir.Int32), ir.Scalar(ir.Bool)}, count.Outputs)
}

func TestCompileProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  `program: methods: f: {outputs: [{dtype: "float32"}], body: [{return: "1"}]}`,
			want: "name is required",
		},
		{
			name: "unknown dtype",
			src:  `program: {name: "p", methods: f: {outputs: [{dtype: "complex64"}], body: [{return: "1"}]}}`,
			want: `unknown dtype "complex64"`,
		},
		{
			name: "unknown statement",
			src:  `program: {name: "p", methods: f: {outputs: [{dtype: "float32"}], body: [{print: "1"}]}}`,
			want: "statement must have one of",
		},
		{
			name: "bad expression",
			src:  `program: {name: "p", methods: f: {outputs: [{dtype: "float32"}], body: [{return: "sqrt(2)"}]}}`,
			want: `unknown function "sqrt"`,
		},
		{
			name: "type error",
			src:  `program: {name: "p", methods: f: {outputs: [{dtype: "float32"}], body: [{return: "y"}]}}`,
			want: `undefined variable "y"`,
		},
		{
			name: "missing program",
			src:  `other: 1`,
			want: "program is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileProgramSource("test.cue", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var compileErr *CompileError
			assert.True(t, errors.As(err, &compileErr), "errors carry a CompileError")
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	src := "program: {\n\tname: \"p\"\n\tmethods: f: {\n\t\toutputs: [{dtype: \"float32\"}]\n\t\tbody: [{return: \"1 +\"}]\n\t}\n}\n"
	_, err := CompileProgramSource("pos.cue", []byte(src))
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.True(t, compileErr.Pos.IsValid())
	assert.Equal(t, 5, compileErr.Pos.Line())
	assert.Contains(t, err.Error(), "pos.cue:5:")
}

func TestCompileProgramCUESyntaxError(t *testing.T) {
	_, err := CompileProgramSource("broken.cue", []byte(`program: {name: `))
	require.Error(t, err)
}
