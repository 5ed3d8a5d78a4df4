package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorRoundsToDType(t *testing.T) {
	f32 := ScalarOf(Float32, 0.1)
	assert.Equal(t, float64(float32(0.1)), f32.Float(0))

	f16 := ScalarOf(Float16, 0.1)
	assert.InDelta(t, 0.1, f16.Float(0), 1e-4)
	assert.NotEqual(t, f32.Float(0), f16.Float(0), "float16 keeps fewer mantissa bits")

	i32, err := FromInts(Int32, nil, []int64{math.MaxInt32 + 1})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt32), i32.Int(0), "int32 wraps")
}

func TestTensorCloneIsIndependent(t *testing.T) {
	orig := MustFromFloats(Float32, []int{2}, 1, 2)
	c := orig.Clone()
	c.setFloat(0, 42)
	assert.Equal(t, 1.0, orig.Float(0))
	assert.True(t, orig.BitEqual(MustFromFloats(Float32, []int{2}, 1, 2)))
}

func TestTensorFromFloatsSizeMismatch(t *testing.T) {
	_, err := FromFloats(Float32, []int{3}, []float64{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs 3 values, got 2")
}

func TestShapeValidate(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		want  string
	}{
		{"scalar", Scalar(Float32), ""},
		{"at limit", MakeShape(Float32, MaxElements), ""},
		{"zero dim absorbs", MakeShape(Float32, 0, math.MaxInt), ""},
		{"negative", MakeShape(Int32, 2, -1), "dimension 1 is negative"},
		{"over limit", MakeShape(Float32, MaxElements, 2), "exceeds"},
		{"overflowing product", MakeShape(Float32, 3037000500, 3037000500), "exceeds"},
		{"bad dtype", Shape{DType: "float8"}, "invalid dtype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.shape.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewTensor(MakeShape(Float64, 3037000500, 3037000500))
	require.Error(t, err)
}

func TestTensorCast(t *testing.T) {
	x := MustFromFloats(Float32, []int{3}, -1.5, 0, 2.7)

	i, err := x.Cast(Int32)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 2}, i.Floats(), "casts truncate toward zero")

	b, err := x.Cast(Bool)
	require.NoError(t, err)
	assert.Equal(t, "bool[3] [true false true]", b.String())
}

func TestTensorJSONRoundTripNonFinite(t *testing.T) {
	x := MustFromFloats(Float32, []int{3}, math.NaN(), math.Inf(1), math.Inf(-1))

	data, err := json.Marshal(x)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dtype":"float32","dims":[3],"data":["NaN","+Inf","-Inf"]}`, string(data))

	var back Tensor
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, x.BitEqual(&back), "NaN payload and infinities survive")
}

func TestTensorString(t *testing.T) {
	assert.Equal(t, "float32[] 19", ScalarFloat32(19).String())
	assert.Equal(t, "bool[] true", ScalarBool(true).String())

	ints, err := FromInts(Int64, []int{3}, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "int64[3] [1 2 3]", ints.String())
}

func TestParseDType(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want DType
	}{
		{"f16", Float16},
		{"float32", Float32},
		{"double", Float64},
		{"i32", Int32},
		{"bool", Bool},
	} {
		got, err := ParseDType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseDType("complex64")
	assert.Error(t, err)
}
