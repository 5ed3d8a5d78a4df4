package ir

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryOpFloorMod(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{9, 2, 1},
		{-7, 2, 1},
		{7, -2, -1},
		{4, 2, 0},
	}
	for _, tt := range tests {
		got, err := BinaryOp(OpMod, ScalarFloat32(float32(tt.a)), ScalarFloat32(float32(tt.b)))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Float(0), "mod(%v, %v)", tt.a, tt.b)
	}
}

func TestBinaryOpIntegerDivision(t *testing.T) {
	a, _ := FromInts(Int32, nil, []int64{-7})
	b, _ := FromInts(Int32, nil, []int64{2})

	q, err := BinaryOp(OpDiv, a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), q.Int(0), "floor division")

	zero, _ := FromInts(Int32, nil, []int64{0})
	_, err = BinaryOp(OpDiv, a, zero)
	assert.True(t, errors.Is(err, ErrDivideByZero))
	_, err = BinaryOp(OpMod, a, zero)
	assert.True(t, errors.Is(err, ErrDivideByZero))
}

func TestBinaryOpFloatDivisionByZero(t *testing.T) {
	got, err := BinaryOp(OpDiv, ScalarFloat32(1), ScalarFloat32(0))
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.Float(0), 1))
}

func TestBinaryOpBroadcast(t *testing.T) {
	v := MustFromFloats(Float32, []int{3}, 1, 2, 3)

	got, err := BinaryOp(OpMul, v, ScalarFloat32(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, got.Floats())
	assert.Equal(t, MakeShape(Float32, 3), got.Shape())

	cmp, err := BinaryOp(OpGt, ScalarFloat32(2), v)
	require.NoError(t, err)
	assert.Equal(t, "bool[3] [true false false]", cmp.String())

	_, err = BinaryOp(OpAdd, v, MustFromFloats(Float32, []int{2}, 1, 2))
	assert.Error(t, err)
}

func TestBinaryOpRoundsToDType(t *testing.T) {
	got, err := BinaryOp(OpDiv, ScalarFloat32(1), ScalarFloat32(3))
	require.NoError(t, err)
	assert.Equal(t, float64(float32(1.0/3.0)), got.Float(0))
}

func TestBinaryOpNaNComparisons(t *testing.T) {
	nan := ScalarFloat32(float32(math.NaN()))
	for _, op := range []Op{OpLt, OpLe, OpGt, OpGe, OpEq} {
		got, err := BinaryOp(op, nan, nan)
		require.NoError(t, err)
		assert.False(t, got.Bool(0), "%s with NaN is false", op)
	}
	ne, err := BinaryOp(OpNe, nan, nan)
	require.NoError(t, err)
	assert.True(t, ne.Bool(0))
}

func TestUnaryOp(t *testing.T) {
	x := MustFromFloats(Float64, []int{3}, -1.5, 0, 2.5)

	neg, err := UnaryOp(OpNeg, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0, -2.5}, neg.Floats())

	abs, err := UnaryOp(OpAbs, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0, 2.5}, abs.Floats())

	floor, err := UnaryOp(OpFloor, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 0, 2}, floor.Floats())

	not, err := UnaryOp(OpNot, ScalarBool(true))
	require.NoError(t, err)
	assert.False(t, not.Bool(0))

	_, err = UnaryOp(OpNot, x)
	assert.Error(t, err)
}

func TestQuantize(t *testing.T) {
	x := ScalarOf(Float32, 0.1)
	q := x.Quantize(Float16)
	assert.Equal(t, Float32, q.DType())
	assert.Equal(t, ScalarOf(Float16, 0.1).Float(0), q.Float(0))
	assert.Equal(t, float64(float32(0.1)), x.Float(0), "original untouched")
}
