package interp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/testutil"
)

func compile(t *testing.T, ctor backend.Constructor, cfg backend.Config) backend.Executable {
	t.Helper()
	b, err := ctor(cfg)
	require.NoError(t, err)
	exe, err := b.Compile(context.Background(), testutil.ControlFlowProgram())
	require.NoError(t, err)
	t.Cleanup(func() { _ = exe.Close() })
	return exe
}

func TestInterpCollatz(t *testing.T) {
	exe := compile(t, New, backend.Config{})

	tests := []struct {
		in   float32
		want float64
	}{
		{9, 19},
		{178, 31},
		{27, 111},
		{1, 0},
		{0.5, 0},
	}
	for _, tt := range tests {
		out, err := exe.Invoke(context.Background(), "collatz", []*ir.Tensor{testutil.F32(tt.in)})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, tt.want, out[0].Float(0), "collatz(%v)", tt.in)
		assert.Equal(t, ir.Float32, out[0].DType())
	}
}

func TestInterpVectorMethod(t *testing.T) {
	exe := compile(t, New, backend.Config{})
	x := ir.MustFromFloats(ir.Float32, []int{3}, 1, 2, 3)

	out, err := exe.Invoke(context.Background(), "scale", []*ir.Tensor{x, testutil.F32(2)})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, out[0].Floats())
}

func TestInterpStepLimit(t *testing.T) {
	exe := compile(t, New, backend.Config{MaxSteps: 100})

	_, err := exe.Invoke(context.Background(), "spin", []*ir.Tensor{testutil.F32(1)})
	require.Error(t, err)
	assert.True(t, backend.IsStepsExceededError(err))
}

func TestInterpHonoursDeadline(t *testing.T) {
	exe := compile(t, New, backend.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := exe.Invoke(ctx, "spin", []*ir.Tensor{testutil.F32(1)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInterpUnknownMethod(t *testing.T) {
	exe := compile(t, New, backend.Config{})
	_, err := exe.Invoke(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, backend.ErrUnknownMethod))
}

func TestInterpClosed(t *testing.T) {
	exe := compile(t, New, backend.Config{})
	require.NoError(t, exe.Close())

	_, err := exe.Invoke(context.Background(), "collatz", []*ir.Tensor{testutil.F32(9)})
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func TestFloat16VariantDiverges(t *testing.T) {
	full := compile(t, New, backend.Config{})
	half := compile(t, NewFloat16, backend.Config{})

	in := []*ir.Tensor{testutil.F32(100)}
	a, err := full.Invoke(context.Background(), "harmonic", in)
	require.NoError(t, err)
	b, err := half.Invoke(context.Background(), "harmonic", in)
	require.NoError(t, err)

	assert.Equal(t, ir.Float32, b[0].DType(), "output dtype is unchanged")
	assert.InDelta(t, a[0].Float(0), b[0].Float(0), 0.1)
	assert.NotEqual(t, a[0].Float(0), b[0].Float(0))

	// Small integers are exact in float16, so collatz(9) agrees.
	c, err := half.Invoke(context.Background(), "collatz", []*ir.Tensor{testutil.F32(9)})
	require.NoError(t, err)
	assert.Equal(t, 19.0, c[0].Float(0))
}

func TestInterpIntegerDivideByZero(t *testing.T) {
	p := ir.MustNewProgram("div", ir.Method{
		Name:    "div",
		Inputs:  []ir.Param{{Name: "a", Shape: ir.Scalar(ir.Int32)}, {Name: "b", Shape: ir.Scalar(ir.Int32)}},
		Outputs: []ir.Shape{ir.Scalar(ir.Int32)},
		Body:    []ir.Stmt{ir.Ret(ir.Bin(ir.OpDiv, ir.V("a"), ir.V("b")))},
	})
	b, _ := New(backend.Config{})
	exe, err := b.Compile(context.Background(), p)
	require.NoError(t, err)

	one, _ := ir.FromInts(ir.Int32, nil, []int64{1})
	zero, _ := ir.FromInts(ir.Int32, nil, []int64{0})
	_, err = exe.Invoke(context.Background(), "div", []*ir.Tensor{one, zero})
	assert.ErrorIs(t, err, ir.ErrDivideByZero)
}

func TestRegistered(t *testing.T) {
	assert.True(t, backend.IsRegistered(BackendName))
	assert.True(t, backend.IsRegistered(Float16BackendName))
}
