package ir

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the element type of a tensor.
type DType string

// Supported dtypes.
const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Bool    DType = "bool"
)

// DTypes lists every supported dtype in a stable order.
var DTypes = []DType{Float16, Float32, Float64, Int32, Int64, Bool}

// ParseDType parses a dtype name. Short aliases (f16, f32, f64, i32, i64) are accepted.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float16", "f16", "half":
		return Float16, nil
	case "float32", "f32", "float":
		return Float32, nil
	case "float64", "f64", "double":
		return Float64, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	case "bool":
		return Bool, nil
	}
	return "", fmt.Errorf("unknown dtype %q", s)
}

// Valid reports whether d is a supported dtype.
func (d DType) Valid() bool {
	switch d {
	case Float16, Float32, Float64, Int32, Int64, Bool:
		return true
	}
	return false
}

// IsFloat reports whether d is a floating-point dtype.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

// IsInteger reports whether d is an integer dtype.
func (d DType) IsInteger() bool {
	return d == Int32 || d == Int64
}

// IsBool reports whether d is the boolean dtype.
func (d DType) IsBool() bool {
	return d == Bool
}

// String implements fmt.Stringer.
func (d DType) String() string {
	return string(d)
}

// RoundFloat rounds v to the precision of the floating-point dtype d.
// Values of non-float dtypes are returned unchanged.
func RoundFloat(d DType, v float64) float64 {
	switch d {
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	}
	return v
}

// WrapInt truncates v to the range of the integer dtype d with two's complement wrap-around.
func WrapInt(d DType, v int64) int64 {
	if d == Int32 {
		return int64(int32(v))
	}
	return v
}

// floatToInt converts a float to an integer of dtype d, truncating toward zero.
// NaN converts to 0 and infinities saturate.
func floatToInt(d DType, v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case d == Int32 && v >= math.MaxInt32:
		return math.MaxInt32
	case d == Int32 && v <= math.MinInt32:
		return math.MinInt32
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return WrapInt(d, int64(v))
}
