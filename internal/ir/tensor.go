package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Tensor is a dense array of numeric values with a fixed shape.
//
// Tensors have value semantics: constructors copy their input and every
// component that hands a tensor to another owner clones it first, so no two
// backends ever alias the same storage.
//
// Storage depends on the dtype class: float dtypes keep float64 values already
// rounded to the dtype's precision, integer dtypes keep int64 values already
// wrapped to the dtype's range, and bool keeps []bool.
type Tensor struct {
	shape  Shape
	floats []float64
	ints   []int64
	bools  []bool
}

// NewTensor returns a zero-filled tensor of the given shape.
func NewTensor(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	t := &Tensor{shape: shape.Clone()}
	n := shape.Size()
	switch {
	case shape.DType.IsFloat():
		t.floats = make([]float64, n)
	case shape.DType.IsInteger():
		t.ints = make([]int64, n)
	default:
		t.bools = make([]bool, n)
	}
	return t, nil
}

// FromFloats builds a tensor of a float dtype from values, rounding each value
// to the dtype's precision. Integer and bool dtypes are converted element-wise.
func FromFloats(dtype DType, dims []int, values []float64) (*Tensor, error) {
	t, err := NewTensor(Shape{DType: dtype, Dims: dims})
	if err != nil {
		return nil, err
	}
	if len(values) != t.shape.Size() {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", t.shape, t.shape.Size(), len(values))
	}
	for i, v := range values {
		t.setFloat(i, v)
	}
	return t, nil
}

// FromInts builds a tensor from integer values, converting to dtype.
func FromInts(dtype DType, dims []int, values []int64) (*Tensor, error) {
	t, err := NewTensor(Shape{DType: dtype, Dims: dims})
	if err != nil {
		return nil, err
	}
	if len(values) != t.shape.Size() {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", t.shape, t.shape.Size(), len(values))
	}
	for i, v := range values {
		t.setInt(i, v)
	}
	return t, nil
}

// FromBools builds a bool tensor.
func FromBools(dims []int, values []bool) (*Tensor, error) {
	t, err := NewTensor(Shape{DType: Bool, Dims: dims})
	if err != nil {
		return nil, err
	}
	if len(values) != t.shape.Size() {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", t.shape, t.shape.Size(), len(values))
	}
	copy(t.bools, values)
	return t, nil
}

// ScalarOf returns a scalar tensor of dtype holding v converted to that dtype.
func ScalarOf(dtype DType, v float64) *Tensor {
	t, err := FromFloats(dtype, nil, []float64{v})
	if err != nil {
		panic(err)
	}
	return t
}

// ScalarFloat32 returns a float32 scalar tensor.
func ScalarFloat32(v float32) *Tensor {
	return ScalarOf(Float32, float64(v))
}

// ScalarBool returns a bool scalar tensor.
func ScalarBool(v bool) *Tensor {
	return &Tensor{shape: Scalar(Bool), bools: []bool{v}}
}

// MustFromFloats is like FromFloats but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFromFloats(dtype DType, dims []int, values ...float64) *Tensor {
	t, err := FromFloats(dtype, dims, values)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// DType returns the tensor's dtype.
func (t *Tensor) DType() DType {
	return t.shape.DType
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return t.shape.Size()
}

// Float returns element i converted to float64.
func (t *Tensor) Float(i int) float64 {
	switch {
	case t.floats != nil:
		return t.floats[i]
	case t.ints != nil:
		return float64(t.ints[i])
	case t.bools[i]:
		return 1
	}
	return 0
}

// Int returns element i converted to int64 (floats truncate toward zero).
func (t *Tensor) Int(i int) int64 {
	switch {
	case t.ints != nil:
		return t.ints[i]
	case t.floats != nil:
		return floatToInt(Int64, t.floats[i])
	case t.bools[i]:
		return 1
	}
	return 0
}

// Bool returns element i as a truth value (non-zero is true).
func (t *Tensor) Bool(i int) bool {
	switch {
	case t.bools != nil:
		return t.bools[i]
	case t.ints != nil:
		return t.ints[i] != 0
	}
	return t.floats[i] != 0
}

// Floats returns a copy of all elements converted to float64.
func (t *Tensor) Floats() []float64 {
	out := make([]float64, t.Size())
	for i := range out {
		out[i] = t.Float(i)
	}
	return out
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		shape:  t.shape.Clone(),
		floats: slices.Clone(t.floats),
		ints:   slices.Clone(t.ints),
		bools:  slices.Clone(t.bools),
	}
}

// Cast converts t to dtype, element-wise.
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	out, err := NewTensor(Shape{DType: dtype, Dims: t.shape.Dims})
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.Size(); i++ {
		switch {
		case t.floats != nil:
			out.setFloat(i, t.floats[i])
		case t.ints != nil:
			out.setInt(i, t.ints[i])
		default:
			out.setBoolValue(i, t.bools[i])
		}
	}
	return out, nil
}

// BitEqual reports whether t and other have identical shapes and bit-identical elements.
// Unlike ==, two NaNs with the same bit pattern are equal.
func (t *Tensor) BitEqual(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	for i := range t.floats {
		if math.Float64bits(t.floats[i]) != math.Float64bits(other.floats[i]) {
			return false
		}
	}
	return slices.Equal(t.ints, other.ints) && slices.Equal(t.bools, other.bools)
}

// String renders the tensor as e.g. "float32[] 19" or "int32[3] [1 2 3]".
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	vals := make([]string, t.Size())
	for i := range vals {
		vals[i] = t.elementString(i)
	}
	if t.shape.IsScalar() && len(vals) == 1 {
		return fmt.Sprintf("%s %s", t.shape, vals[0])
	}
	return fmt.Sprintf("%s [%s]", t.shape, strings.Join(vals, " "))
}

func (t *Tensor) elementString(i int) string {
	switch {
	case t.floats != nil:
		return FormatFloat(t.floats[i])
	case t.ints != nil:
		return strconv.FormatInt(t.ints[i], 10)
	}
	return strconv.FormatBool(t.bools[i])
}

// FormatFloat renders a float the way traces print it: shortest round-trip
// representation, with NaN and the infinities spelled "NaN", "+Inf" and "-Inf".
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (t *Tensor) setFloat(i int, v float64) {
	switch {
	case t.floats != nil:
		t.floats[i] = RoundFloat(t.shape.DType, v)
	case t.ints != nil:
		t.ints[i] = floatToInt(t.shape.DType, v)
	default:
		t.bools[i] = v != 0
	}
}

func (t *Tensor) setInt(i int, v int64) {
	switch {
	case t.floats != nil:
		t.floats[i] = RoundFloat(t.shape.DType, float64(v))
	case t.ints != nil:
		t.ints[i] = WrapInt(t.shape.DType, v)
	default:
		t.bools[i] = v != 0
	}
}

func (t *Tensor) setBoolValue(i int, v bool) {
	var n int64
	if v {
		n = 1
	}
	if t.bools != nil {
		t.bools[i] = v
		return
	}
	t.setInt(i, n)
}

// tensorJSON is the wire form of a tensor. Float data may contain the strings
// "NaN", "+Inf" and "-Inf", which plain JSON numbers cannot express.
type tensorJSON struct {
	DType DType `json:"dtype"`
	Dims  []int `json:"dims"`
	Data  []any `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	w := tensorJSON{DType: t.shape.DType, Dims: t.shape.Dims, Data: make([]any, t.Size())}
	if w.Dims == nil {
		w.Dims = []int{}
	}
	for i := range w.Data {
		switch {
		case t.floats != nil:
			v := t.floats[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				w.Data[i] = FormatFloat(v)
			} else {
				w.Data[i] = v
			}
		case t.ints != nil:
			w.Data[i] = t.ints[i]
		default:
			w.Data[i] = t.bools[i]
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tensor) UnmarshalJSON(data []byte) error {
	var w struct {
		DType DType             `json:"dtype"`
		Dims  []int             `json:"dims"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out, err := NewTensor(Shape{DType: w.DType, Dims: w.Dims})
	if err != nil {
		return err
	}
	if len(w.Data) != out.Size() {
		return fmt.Errorf("shape %s needs %d values, got %d", out.shape, out.Size(), len(w.Data))
	}
	for i, raw := range w.Data {
		if err := out.setJSONElement(i, raw); err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	*t = *out
	return nil
}

func (t *Tensor) setJSONElement(i int, raw json.RawMessage) error {
	if t.bools != nil {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		t.bools[i] = b
		return nil
	}
	if t.ints != nil {
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		t.setInt(i, n)
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := ParseFloat(s)
		if err != nil {
			return err
		}
		t.setFloat(i, v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	t.setFloat(i, v)
	return nil
}

// ParseFloat parses a float literal, accepting the spellings FormatFloat emits.
func ParseFloat(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), nil
	case "+inf", "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}
