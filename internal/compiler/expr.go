package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"

	"github.com/roach88/difftrace/internal/ir"
)

var binaryTokens = map[token.Token]ir.Op{
	token.ADD:  ir.OpAdd,
	token.SUB:  ir.OpSub,
	token.MUL:  ir.OpMul,
	token.QUO:  ir.OpDiv,
	token.LSS:  ir.OpLt,
	token.LEQ:  ir.OpLe,
	token.GTR:  ir.OpGt,
	token.GEQ:  ir.OpGe,
	token.EQL:  ir.OpEq,
	token.NEQ:  ir.OpNe,
	token.LAND: ir.OpAnd,
	token.LOR:  ir.OpOr,
}

var binaryCalls = map[string]ir.Op{
	"mod": ir.OpMod,
	"min": ir.OpMin,
	"max": ir.OpMax,
}

var unaryCalls = map[string]ir.Op{
	"abs":   ir.OpAbs,
	"floor": ir.OpFloor,
}

// ParseExpr parses an expression string such as "3 * a + 1" or "mod(a, 2) > 0".
//
// The grammar is CUE's expression grammar restricted to arithmetic,
// comparison and logical operators, identifiers, number and bool literals and
// the calls mod, min, max, abs, floor and the dtype casts (float32(x), ...).
// Number literals are untyped; they take the dtype of the expression they
// are combined with.
func ParseExpr(src string) (ir.Expr, error) {
	node, err := parser.ParseExpr("expr", src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	e, err := convertExpr(node)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	return e, nil
}

func convertExpr(n ast.Expr) (ir.Expr, error) {
	switch x := n.(type) {
	case *ast.ParenExpr:
		return convertExpr(x.X)

	case *ast.Ident:
		return ir.V(x.Name), nil

	case *ast.BasicLit:
		return convertLit(x)

	case *ast.UnaryExpr:
		operand, err := convertExpr(x.X)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case token.SUB:
			if c, ok := operand.(ir.Const); ok {
				c.Value = -c.Value
				return c, nil
			}
			return ir.Un(ir.OpNeg, operand), nil
		case token.ADD:
			return operand, nil
		case token.NOT:
			return ir.Un(ir.OpNot, operand), nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", x.Op)

	case *ast.BinaryExpr:
		op, ok := binaryTokens[x.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		lhs, err := convertExpr(x.X)
		if err != nil {
			return nil, err
		}
		rhs, err := convertExpr(x.Y)
		if err != nil {
			return nil, err
		}
		return ir.Bin(op, lhs, rhs), nil

	case *ast.CallExpr:
		return convertCall(x)
	}
	return nil, fmt.Errorf("unsupported expression %T", n)
}

func convertLit(lit *ast.BasicLit) (ir.Expr, error) {
	switch lit.Kind {
	case token.INT, token.FLOAT:
		v, err := strconv.ParseFloat(strings.ReplaceAll(lit.Value, "_", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", lit.Value, err)
		}
		return ir.Lit(v), nil
	case token.TRUE:
		return ir.TypedLit(ir.Bool, 1), nil
	case token.FALSE:
		return ir.TypedLit(ir.Bool, 0), nil
	}
	return nil, fmt.Errorf("unsupported literal %s", lit.Value)
}

func convertCall(call *ast.CallExpr) (ir.Expr, error) {
	fn, ok := call.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("unsupported call target %T", call.Fun)
	}
	args := make([]ir.Expr, len(call.Args))
	for i, a := range call.Args {
		e, err := convertExpr(a)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}

	arity := func(want int) error {
		if len(args) != want {
			return fmt.Errorf("%s takes %d arguments, got %d", fn.Name, want, len(args))
		}
		return nil
	}
	if op, ok := binaryCalls[fn.Name]; ok {
		if err := arity(2); err != nil {
			return nil, err
		}
		return ir.Bin(op, args[0], args[1]), nil
	}
	if op, ok := unaryCalls[fn.Name]; ok {
		if err := arity(1); err != nil {
			return nil, err
		}
		return ir.Un(op, args[0]), nil
	}
	if dtype, err := ir.ParseDType(fn.Name); err == nil {
		if err := arity(1); err != nil {
			return nil, err
		}
		return ir.Cast{DType: dtype, X: args[0]}, nil
	}
	return nil, fmt.Errorf("unknown function %q", fn.Name)
}
