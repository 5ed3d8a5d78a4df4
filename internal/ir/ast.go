package ir

import (
	"fmt"
	"strings"
)

// Op names an element-wise operation.
type Op string

// Binary operations.
const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
	OpMod Op = "mod" // floor modulo: the result has the sign of the divisor
	OpMin Op = "min"
	OpMax Op = "max"

	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpEq Op = "eq"
	OpNe Op = "ne"

	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Unary operations.
const (
	OpNeg   Op = "neg"
	OpNot   Op = "not"
	OpAbs   Op = "abs"
	OpFloor Op = "floor"
)

// IsComparison reports whether op produces a bool from two numeric operands.
func (op Op) IsComparison() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		return true
	}
	return false
}

// IsLogical reports whether op combines two bool operands.
func (op Op) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// IsArithmetic reports whether op is a numeric binary operation.
func (op Op) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpMin, OpMax:
		return true
	}
	return false
}

// IsUnary reports whether op is a unary operation.
func (op Op) IsUnary() bool {
	switch op {
	case OpNeg, OpNot, OpAbs, OpFloor:
		return true
	}
	return false
}

// Expr is a sealed interface for expression nodes.
// Const, Var, Binary, Unary and Cast implement it.
type Expr interface {
	exprNode()
	String() string
}

// Const is a scalar literal. An empty DType marks an untyped literal that
// takes the dtype of the expression it is combined with.
type Const struct {
	Value float64
	DType DType
}

// Var reads a named variable.
type Var struct {
	Name string
}

// Binary applies an element-wise binary operation.
type Binary struct {
	Op   Op
	X, Y Expr
}

// Unary applies an element-wise unary operation.
type Unary struct {
	Op Op
	X  Expr
}

// Cast converts X to DType.
type Cast struct {
	DType DType
	X     Expr
}

func (Const) exprNode()  {}
func (Var) exprNode()    {}
func (Binary) exprNode() {}
func (Unary) exprNode()  {}
func (Cast) exprNode()   {}

func (c Const) String() string {
	if c.DType == "" {
		return FormatFloat(c.Value)
	}
	return fmt.Sprintf("%s(%s)", c.DType, FormatFloat(c.Value))
}

func (v Var) String() string { return v.Name }

func (b Binary) String() string { return fmt.Sprintf("%s(%s, %s)", b.Op, b.X, b.Y) }

func (u Unary) String() string { return fmt.Sprintf("%s(%s)", u.Op, u.X) }

func (c Cast) String() string { return fmt.Sprintf("%s(%s)", c.DType, c.X) }

// Stmt is a sealed interface for statement nodes.
// Assign, If, While and Return implement it.
type Stmt interface {
	stmtNode()
}

// Assign binds the value of Expr to Name. A variable keeps the shape of its
// first assignment for the rest of the method.
type Assign struct {
	Name string
	Expr Expr
}

// If runs Then when Cond is true, Else otherwise. Cond must be a scalar bool.
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// While runs Body while Cond is true. There is no static bound on the
// number of iterations.
type While struct {
	Cond Expr
	Body []Stmt
}

// Return ends the method with the given output values.
type Return struct {
	Values []Expr
}

func (Assign) stmtNode() {}
func (If) stmtNode()     {}
func (While) stmtNode()  {}
func (Return) stmtNode() {}

// Lit returns an untyped literal.
func Lit(v float64) Const { return Const{Value: v} }

// TypedLit returns a literal of the given dtype.
func TypedLit(dtype DType, v float64) Const { return Const{Value: v, DType: dtype} }

// V returns a variable reference.
func V(name string) Var { return Var{Name: name} }

// Bin returns a binary expression.
func Bin(op Op, x, y Expr) Binary { return Binary{Op: op, X: x, Y: y} }

// Un returns a unary expression.
func Un(op Op, x Expr) Unary { return Unary{Op: op, X: x} }

// Set returns an assignment statement.
func Set(name string, e Expr) Assign { return Assign{Name: name, Expr: e} }

// Ret returns a return statement.
func Ret(values ...Expr) Return { return Return{Values: values} }

// FormatBody renders statements as indented pseudo-code, for diagnostics.
func FormatBody(body []Stmt) string {
	var buf strings.Builder
	formatBody(&buf, body, 0)
	return buf.String()
}

func formatBody(buf *strings.Builder, body []Stmt, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, s := range body {
		switch st := s.(type) {
		case Assign:
			fmt.Fprintf(buf, "%s%s = %s\n", indent, st.Name, st.Expr)
		case If:
			fmt.Fprintf(buf, "%sif %s:\n", indent, st.Cond)
			formatBody(buf, st.Then, depth+1)
			if len(st.Else) > 0 {
				fmt.Fprintf(buf, "%selse:\n", indent)
				formatBody(buf, st.Else, depth+1)
			}
		case While:
			fmt.Fprintf(buf, "%swhile %s:\n", indent, st.Cond)
			formatBody(buf, st.Body, depth+1)
		case Return:
			vals := make([]string, len(st.Values))
			for i, v := range st.Values {
				vals[i] = v.String()
			}
			fmt.Fprintf(buf, "%sreturn %s\n", indent, strings.Join(vals, ", "))
		}
	}
}
