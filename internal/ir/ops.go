package ir

import (
	"errors"
	"fmt"
	"math"
)

// ErrDivideByZero is returned by integer div and mod with a zero divisor.
var ErrDivideByZero = errors.New("integer division by zero")

// BinaryOp applies op element-wise to x and y. A scalar operand broadcasts
// against the other; otherwise dimensions must match. Arithmetic results take
// x's dtype and are rounded to it; comparisons and logical ops produce bool.
func BinaryOp(op Op, x, y *Tensor) (*Tensor, error) {
	dims, err := broadcastDims(x.shape.Dims, y.shape.Dims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if x.DType() != y.DType() {
		return nil, fmt.Errorf("%s: mismatched dtypes %s and %s", op, x.DType(), y.DType())
	}

	resultType := x.DType()
	if op.IsComparison() || op.IsLogical() {
		resultType = Bool
	}
	out, err := NewTensor(Shape{DType: resultType, Dims: dims})
	if err != nil {
		return nil, err
	}

	xs, ys := x.Size() == 1 && x.shape.IsScalar(), y.Size() == 1 && y.shape.IsScalar()
	for i := 0; i < out.Size(); i++ {
		xi, yi := i, i
		if xs {
			xi = 0
		}
		if ys {
			yi = 0
		}
		switch {
		case op.IsLogical():
			a, b := x.bools[xi], y.bools[yi]
			if op == OpAnd {
				out.bools[i] = a && b
			} else {
				out.bools[i] = a || b
			}
		case op.IsComparison():
			out.bools[i], err = compareElem(op, x, xi, y, yi)
		case x.floats != nil:
			out.floats[i], err = floatElem(op, x.floats[xi], y.floats[yi])
			out.floats[i] = RoundFloat(resultType, out.floats[i])
		case x.ints != nil:
			var v int64
			v, err = intElem(op, x.ints[xi], y.ints[yi])
			out.ints[i] = WrapInt(resultType, v)
		default:
			err = fmt.Errorf("%s: unsupported operand dtype %s", op, x.DType())
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func floatElem(op Op, a, b float64) (float64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		return a / b, nil
	case OpMod:
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return r, nil
	case OpMin:
		return math.Min(a, b), nil
	case OpMax:
		return math.Max(a, b), nil
	}
	return 0, fmt.Errorf("unknown arithmetic operation %q", op)
}

// intElem uses floor division so div and mod agree: a == div(a,b)*b + mod(a,b).
func intElem(op Op, a, b int64) (int64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return q, nil
	case OpMod:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return r, nil
	case OpMin:
		return min(a, b), nil
	case OpMax:
		return max(a, b), nil
	}
	return 0, fmt.Errorf("unknown arithmetic operation %q", op)
}

func compareElem(op Op, x *Tensor, xi int, y *Tensor, yi int) (bool, error) {
	if x.bools != nil {
		switch op {
		case OpEq:
			return x.bools[xi] == y.bools[yi], nil
		case OpNe:
			return x.bools[xi] != y.bools[yi], nil
		}
		return false, fmt.Errorf("%s: ordering comparison on bool", op)
	}
	if x.ints != nil {
		a, b := x.ints[xi], y.ints[yi]
		switch op {
		case OpLt:
			return a < b, nil
		case OpLe:
			return a <= b, nil
		case OpGt:
			return a > b, nil
		case OpGe:
			return a >= b, nil
		case OpEq:
			return a == b, nil
		case OpNe:
			return a != b, nil
		}
	}
	a, b := x.floats[xi], y.floats[yi]
	switch op {
	case OpLt:
		return a < b, nil
	case OpLe:
		return a <= b, nil
	case OpGt:
		return a > b, nil
	case OpGe:
		return a >= b, nil
	case OpEq:
		return a == b, nil
	case OpNe:
		return a != b, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}

// UnaryOp applies op element-wise to x.
func UnaryOp(op Op, x *Tensor) (*Tensor, error) {
	out := x.Clone()
	switch op {
	case OpNot:
		if out.bools == nil {
			return nil, fmt.Errorf("not: operand must be bool, got %s", x.DType())
		}
		for i, b := range out.bools {
			out.bools[i] = !b
		}
		return out, nil
	case OpNeg, OpAbs, OpFloor:
	default:
		return nil, fmt.Errorf("unknown unary operation %q", op)
	}
	if out.bools != nil {
		return nil, fmt.Errorf("%s: operand must be numeric, got bool", op)
	}
	for i, v := range out.floats {
		switch op {
		case OpNeg:
			v = -v
		case OpAbs:
			v = math.Abs(v)
		case OpFloor:
			v = math.Floor(v)
		}
		out.floats[i] = RoundFloat(out.DType(), v)
	}
	for i, v := range out.ints {
		switch op {
		case OpNeg:
			v = -v
		case OpAbs:
			if v < 0 {
				v = -v
			}
		}
		out.ints[i] = WrapInt(out.DType(), v)
	}
	return out, nil
}

// Quantize returns a copy of t whose float elements have been rounded through
// the precision of via and back to t's own dtype. Non-float tensors are cloned.
func (t *Tensor) Quantize(via DType) *Tensor {
	out := t.Clone()
	for i, v := range out.floats {
		out.floats[i] = RoundFloat(out.DType(), RoundFloat(via, v))
	}
	return out
}
