package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MaxElements bounds the number of elements a shape may describe.
const MaxElements = 1 << 24

// Shape describes the dtype and dimensions of a tensor.
// A Shape with no dimensions is a scalar.
type Shape struct {
	DType DType `json:"dtype"`
	Dims  []int `json:"dims"`
}

// Scalar returns the scalar shape of the given dtype.
func Scalar(dtype DType) Shape {
	return Shape{DType: dtype, Dims: []int{}}
}

// MakeShape returns a shape with the given dtype and dimensions.
func MakeShape(dtype DType, dims ...int) Shape {
	return Shape{DType: dtype, Dims: slices.Clone(dims)}
}

// Rank is the number of dimensions.
func (s Shape) Rank() int {
	return len(s.Dims)
}

// IsScalar reports whether s has no dimensions.
func (s Shape) IsScalar() bool {
	return len(s.Dims) == 0
}

// Size is the number of elements described by s.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dims {
		size *= d
	}
	return size
}

// Equal reports whether both shapes have the same dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dims, other.Dims)
}

// Clone returns a deep copy of s.
func (s Shape) Clone() Shape {
	dims := make([]int, len(s.Dims))
	copy(dims, s.Dims)
	return Shape{DType: s.DType, Dims: dims}
}

// Validate checks that the dtype is known, every dimension is non-negative
// and the element count does not exceed MaxElements.
func (s Shape) Validate() error {
	if !s.DType.Valid() {
		return fmt.Errorf("invalid dtype %q", s.DType)
	}
	size := 1
	for i, d := range s.Dims {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
		if d > 0 && size > MaxElements/d {
			return fmt.Errorf("shape %s exceeds %d elements", s, MaxElements)
		}
		size *= d
	}
	return nil
}

// String renders the shape as e.g. "float32[2,3]" or "float32[]".
func (s Shape) String() string {
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%s[%s]", s.DType, strings.Join(parts, ","))
}

// broadcastDims returns the dimensions of an element-wise result of a and b.
// Scalars broadcast against anything; otherwise dimensions must match.
func broadcastDims(a, b []int) ([]int, error) {
	switch {
	case len(a) == 0:
		return slices.Clone(b), nil
	case len(b) == 0:
		return slices.Clone(a), nil
	case slices.Equal(a, b):
		return slices.Clone(a), nil
	}
	return nil, fmt.Errorf("incompatible dimensions %v and %v", a, b)
}
