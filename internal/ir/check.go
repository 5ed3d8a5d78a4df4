package ir

import (
	"fmt"
)

// TypeError reports an ill-typed method body.
type TypeError struct {
	Method  string
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("method %q: %s", e.Method, e.Message)
}

// checker type-checks one method body. Variables are flow-insensitive: a
// variable has the shape of its first assignment everywhere in the method.
type checker struct {
	method  string
	env     map[string]Shape
	outputs []Shape
	returns int
}

func checkMethod(m Method) (Method, error) {
	c := &checker{method: m.Name, env: make(map[string]Shape), outputs: m.Outputs}

	inputs := make([]Param, len(m.Inputs))
	for i, p := range m.Inputs {
		p.Name = NormalizeName(p.Name)
		if p.Name == "" {
			return Method{}, c.errorf("input %d has no name", i)
		}
		if err := p.Shape.Validate(); err != nil {
			return Method{}, c.errorf("input %q: %v", p.Name, err)
		}
		if _, dup := c.env[p.Name]; dup {
			return Method{}, c.errorf("duplicate input %q", p.Name)
		}
		p.Shape = p.Shape.Clone()
		c.env[p.Name] = p.Shape
		inputs[i] = p
	}

	outputs := make([]Shape, len(m.Outputs))
	for i, s := range m.Outputs {
		if err := s.Validate(); err != nil {
			return Method{}, c.errorf("output %d: %v", i, err)
		}
		outputs[i] = s.Clone()
	}
	c.outputs = outputs

	body, err := c.block(m.Body)
	if err != nil {
		return Method{}, err
	}
	if c.returns == 0 {
		return Method{}, c.errorf("no return statement")
	}
	return Method{Name: m.Name, Inputs: inputs, Outputs: outputs, Body: body}, nil
}

func (c *checker) errorf(format string, args ...any) error {
	return &TypeError{Method: c.method, Message: fmt.Sprintf(format, args...)}
}

func (c *checker) block(stmts []Stmt) ([]Stmt, error) {
	out := make([]Stmt, 0, len(stmts))
	for _, s := range stmts {
		checked, err := c.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, checked)
	}
	return out, nil
}

func (c *checker) stmt(s Stmt) (Stmt, error) {
	switch st := s.(type) {
	case Assign:
		name := NormalizeName(st.Name)
		if name == "" {
			return nil, c.errorf("assignment without a variable name")
		}
		e, shape, weak, err := c.expr(st.Expr)
		if err != nil {
			return nil, err
		}
		prev, exists := c.env[name]
		if weak {
			target := Float32
			if exists {
				target = prev.DType
			}
			e, shape = retype(e, target), Shape{DType: target, Dims: shape.Dims}
		}
		if exists && !prev.Equal(shape) {
			return nil, c.errorf("variable %q has shape %s, cannot assign %s", name, prev, shape)
		}
		c.env[name] = shape
		return Assign{Name: name, Expr: e}, nil

	case If:
		cond, err := c.condition(st.Cond, "if")
		if err != nil {
			return nil, err
		}
		then, err := c.block(st.Then)
		if err != nil {
			return nil, err
		}
		els, err := c.block(st.Else)
		if err != nil {
			return nil, err
		}
		return If{Cond: cond, Then: then, Else: els}, nil

	case While:
		cond, err := c.condition(st.Cond, "while")
		if err != nil {
			return nil, err
		}
		body, err := c.block(st.Body)
		if err != nil {
			return nil, err
		}
		// Variables first assigned inside the body are visible to the
		// condition on the next iteration, so check it once more.
		if cond, err = c.condition(st.Cond, "while"); err != nil {
			return nil, err
		}
		return While{Cond: cond, Body: body}, nil

	case Return:
		if len(st.Values) != len(c.outputs) {
			return nil, c.errorf("return has %d values, method declares %d outputs", len(st.Values), len(c.outputs))
		}
		vals := make([]Expr, len(st.Values))
		for i, v := range st.Values {
			e, shape, weak, err := c.expr(v)
			if err != nil {
				return nil, err
			}
			want := c.outputs[i]
			if weak {
				e, shape = retype(e, want.DType), Shape{DType: want.DType, Dims: shape.Dims}
			}
			if !shape.Equal(want) {
				return nil, c.errorf("return value %d has shape %s, method declares %s", i, shape, want)
			}
			vals[i] = e
		}
		c.returns++
		return Return{Values: vals}, nil

	case nil:
		return nil, c.errorf("nil statement")
	}
	return nil, c.errorf("unsupported statement %T", s)
}

func (c *checker) condition(e Expr, what string) (Expr, error) {
	checked, shape, _, err := c.expr(e)
	if err != nil {
		return nil, err
	}
	if shape.DType != Bool || !shape.IsScalar() {
		return nil, c.errorf("%s condition %s must be a scalar bool, got %s", what, e, shape)
	}
	return checked, nil
}

// expr checks e and returns the resolved expression, its shape and whether it
// is weakly typed (built from untyped literals only).
func (c *checker) expr(e Expr) (Expr, Shape, bool, error) {
	switch ex := e.(type) {
	case Const:
		if ex.DType == "" {
			return ex, Scalar(Float32), true, nil
		}
		if !ex.DType.Valid() {
			return nil, Shape{}, false, c.errorf("literal %s has invalid dtype", ex)
		}
		return ex, Scalar(ex.DType), false, nil

	case Var:
		shape, ok := c.env[NormalizeName(ex.Name)]
		if !ok {
			return nil, Shape{}, false, c.errorf("undefined variable %q", ex.Name)
		}
		return Var{Name: NormalizeName(ex.Name)}, shape.Clone(), false, nil

	case Binary:
		return c.binary(ex)

	case Unary:
		x, sx, weak, err := c.expr(ex.X)
		if err != nil {
			return nil, Shape{}, false, err
		}
		switch ex.Op {
		case OpNot:
			if weak || sx.DType != Bool {
				return nil, Shape{}, false, c.errorf("%s needs a bool operand, got %s", ex, sx)
			}
		case OpNeg, OpAbs, OpFloor:
			if sx.DType == Bool {
				return nil, Shape{}, false, c.errorf("%s needs a numeric operand, got %s", ex, sx)
			}
		default:
			return nil, Shape{}, false, c.errorf("unknown unary operation %q", ex.Op)
		}
		return Unary{Op: ex.Op, X: x}, sx, weak, nil

	case Cast:
		if !ex.DType.Valid() {
			return nil, Shape{}, false, c.errorf("cast to invalid dtype %q", ex.DType)
		}
		x, sx, weak, err := c.expr(ex.X)
		if err != nil {
			return nil, Shape{}, false, err
		}
		if weak {
			x = retype(x, ex.DType)
		}
		return Cast{DType: ex.DType, X: x}, Shape{DType: ex.DType, Dims: sx.Dims}, false, nil

	case nil:
		return nil, Shape{}, false, c.errorf("nil expression")
	}
	return nil, Shape{}, false, c.errorf("unsupported expression %T", e)
}

func (c *checker) binary(b Binary) (Expr, Shape, bool, error) {
	x, sx, wx, err := c.expr(b.X)
	if err != nil {
		return nil, Shape{}, false, err
	}
	y, sy, wy, err := c.expr(b.Y)
	if err != nil {
		return nil, Shape{}, false, err
	}

	switch {
	case wx && !wy:
		x, sx = retype(x, sy.DType), Shape{DType: sy.DType, Dims: sx.Dims}
	case wy && !wx:
		y, sy = retype(y, sx.DType), Shape{DType: sx.DType, Dims: sy.Dims}
	}
	weak := wx && wy

	dims, err := broadcastDims(sx.Dims, sy.Dims)
	if err != nil {
		return nil, Shape{}, false, c.errorf("%s: %v", b, err)
	}

	switch {
	case b.Op.IsArithmetic():
		if sx.DType != sy.DType {
			return nil, Shape{}, false, c.errorf("%s: mismatched dtypes %s and %s", b, sx.DType, sy.DType)
		}
		if sx.DType == Bool {
			return nil, Shape{}, false, c.errorf("%s: arithmetic on bool", b)
		}
		return Binary{Op: b.Op, X: x, Y: y}, Shape{DType: sx.DType, Dims: dims}, weak, nil

	case b.Op.IsComparison():
		if sx.DType != sy.DType {
			return nil, Shape{}, false, c.errorf("%s: mismatched dtypes %s and %s", b, sx.DType, sy.DType)
		}
		if sx.DType == Bool && b.Op != OpEq && b.Op != OpNe {
			return nil, Shape{}, false, c.errorf("%s: ordering comparison on bool", b)
		}
		if weak {
			x, y = retype(x, Float32), retype(y, Float32)
		}
		return Binary{Op: b.Op, X: x, Y: y}, Shape{DType: Bool, Dims: dims}, false, nil

	case b.Op.IsLogical():
		if sx.DType != Bool || sy.DType != Bool || weak {
			return nil, Shape{}, false, c.errorf("%s needs bool operands, got %s and %s", b, sx, sy)
		}
		return Binary{Op: b.Op, X: x, Y: y}, Shape{DType: Bool, Dims: dims}, false, nil
	}
	return nil, Shape{}, false, c.errorf("unknown binary operation %q", b.Op)
}

// retype assigns dtype to every untyped literal in e.
func retype(e Expr, dtype DType) Expr {
	switch ex := e.(type) {
	case Const:
		if ex.DType == "" {
			return Const{Value: ex.Value, DType: dtype}
		}
		return ex
	case Binary:
		if ex.Op.IsComparison() || ex.Op.IsLogical() {
			return ex
		}
		return Binary{Op: ex.Op, X: retype(ex.X, dtype), Y: retype(ex.Y, dtype)}
	case Unary:
		return Unary{Op: ex.Op, X: retype(ex.X, dtype)}
	}
	return e
}
