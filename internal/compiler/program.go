package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/difftrace/internal/ir"
)

// LoadProgramFile reads a CUE file and compiles its top-level "program" value.
func LoadProgramFile(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return CompileProgramSource(path, src)
}

// CompileProgramSource compiles CUE source containing a top-level "program" value.
func CompileProgramSource(filename string, src []byte) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	prog := v.LookupPath(cue.ParsePath("program"))
	if !prog.Exists() {
		return nil, &CompileError{Field: "program", Message: "program is required", Pos: v.Pos()}
	}
	return CompileProgram(prog)
}

// CompileProgram parses a CUE value into a type-checked program.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value must be the program struct itself:
//
//	program: {
//		name: "control_flow"
//		methods: collatz: {
//			inputs: [{name: "a", dtype: "float32"}]
//			outputs: [{dtype: "float32"}]
//			body: [
//				{set: "i", to: "0"},
//				{while: "a > 1", do: [...]},
//				{return: ["i"]},
//			]
//		}
//	}
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	name, err := requireString(v, "name")
	if err != nil {
		return nil, err
	}

	methodsVal := v.LookupPath(cue.ParsePath("methods"))
	if !methodsVal.Exists() {
		return nil, &CompileError{Field: "methods", Message: "at least one method is required", Pos: v.Pos()}
	}
	iter, err := methodsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var methods []ir.Method
	for iter.Next() {
		m, err := compileMethod(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		return nil, &CompileError{Field: "methods", Message: "at least one method is required", Pos: methodsVal.Pos()}
	}

	p, err := ir.NewProgram(name, methods...)
	if err != nil {
		return nil, &CompileError{Field: "program", Message: err.Error(), Pos: v.Pos()}
	}
	return p, nil
}

func compileMethod(name string, v cue.Value) (ir.Method, error) {
	m := ir.Method{Name: name}

	if inputs := v.LookupPath(cue.ParsePath("inputs")); inputs.Exists() {
		list, err := inputs.List()
		if err != nil {
			return m, formatCUEError(err)
		}
		for list.Next() {
			item := list.Value()
			pname, err := requireString(item, "name")
			if err != nil {
				return m, err
			}
			shape, err := parseShape(item)
			if err != nil {
				return m, err
			}
			m.Inputs = append(m.Inputs, ir.Param{Name: pname, Shape: shape})
		}
	}

	outputs := v.LookupPath(cue.ParsePath("outputs"))
	if !outputs.Exists() {
		return m, &CompileError{Field: "outputs", Message: fmt.Sprintf("method %s: outputs are required", name), Pos: v.Pos()}
	}
	list, err := outputs.List()
	if err != nil {
		return m, formatCUEError(err)
	}
	for list.Next() {
		shape, err := parseShape(list.Value())
		if err != nil {
			return m, err
		}
		m.Outputs = append(m.Outputs, shape)
	}

	body := v.LookupPath(cue.ParsePath("body"))
	if !body.Exists() {
		return m, &CompileError{Field: "body", Message: fmt.Sprintf("method %s: body is required", name), Pos: v.Pos()}
	}
	m.Body, err = compileBlock(body)
	if err != nil {
		return m, err
	}
	return m, nil
}

func parseShape(v cue.Value) (ir.Shape, error) {
	dtypeName, err := requireString(v, "dtype")
	if err != nil {
		return ir.Shape{}, err
	}
	dtype, err := ir.ParseDType(dtypeName)
	if err != nil {
		return ir.Shape{}, &CompileError{Field: "dtype", Message: err.Error(), Pos: v.Pos()}
	}
	shape := ir.Scalar(dtype)

	if dims := v.LookupPath(cue.ParsePath("dims")); dims.Exists() {
		iter, err := dims.List()
		if err != nil {
			return ir.Shape{}, formatCUEError(err)
		}
		for iter.Next() {
			d, err := iter.Value().Int64()
			if err != nil {
				return ir.Shape{}, formatCUEError(err)
			}
			if d < 0 {
				return ir.Shape{}, &CompileError{Field: "dims", Message: "dimensions must be non-negative", Pos: iter.Value().Pos()}
			}
			shape.Dims = append(shape.Dims, int(d))
		}
	}
	return shape, nil
}

// compileBlock compiles a list of statements. Each statement is a struct
// whose keys select its kind:
//
//	{set: "x", to: "expr"}
//	{while: "cond", do: [...]}
//	{cond: "cond", then: [...], otherwise: [...]}
//	{return: ["expr", ...]} or {return: "expr"}
func compileBlock(v cue.Value) ([]ir.Stmt, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var stmts []ir.Stmt
	for iter.Next() {
		s, err := compileStmt(iter.Value())
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func compileStmt(v cue.Value) (ir.Stmt, error) {
	switch {
	case has(v, "set"):
		name, err := requireString(v, "set")
		if err != nil {
			return nil, err
		}
		e, err := exprField(v, "to")
		if err != nil {
			return nil, err
		}
		return ir.Set(name, e), nil

	case has(v, "while"):
		cond, err := exprField(v, "while")
		if err != nil {
			return nil, err
		}
		body, err := optionalBlock(v, "do")
		if err != nil {
			return nil, err
		}
		return ir.While{Cond: cond, Body: body}, nil

	case has(v, "cond"):
		cond, err := exprField(v, "cond")
		if err != nil {
			return nil, err
		}
		then, err := optionalBlock(v, "then")
		if err != nil {
			return nil, err
		}
		otherwise, err := optionalBlock(v, "otherwise")
		if err != nil {
			return nil, err
		}
		return ir.If{Cond: cond, Then: then, Else: otherwise}, nil

	case has(v, "return"):
		return compileReturn(v.LookupPath(cue.ParsePath("return")))
	}
	return nil, &CompileError{
		Field:   "body",
		Message: "statement must have one of set, while, cond or return",
		Pos:     v.Pos(),
	}
}

func compileReturn(v cue.Value) (ir.Stmt, error) {
	if s, err := v.String(); err == nil {
		e, err := parseAt(v, s)
		if err != nil {
			return nil, err
		}
		return ir.Ret(e), nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var vals []ir.Expr
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		e, err := parseAt(iter.Value(), s)
		if err != nil {
			return nil, err
		}
		vals = append(vals, e)
	}
	return ir.Ret(vals...), nil
}

func optionalBlock(v cue.Value, field string) ([]ir.Stmt, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	return compileBlock(f)
}

func exprField(v cue.Value, field string) (ir.Expr, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	// Plain CUE numbers and bools are accepted as well as expression strings.
	switch f.IncompleteKind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		n, err := f.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Lit(n), nil
	case cue.BoolKind:
		b, err := f.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if b {
			return ir.TypedLit(ir.Bool, 1), nil
		}
		return ir.TypedLit(ir.Bool, 0), nil
	}
	s, err := f.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return parseAt(f, s)
}

func parseAt(v cue.Value, src string) (ir.Expr, error) {
	e, err := ParseExpr(src)
	if err != nil {
		return nil, &CompileError{Field: "expr", Message: err.Error(), Pos: v.Pos()}
	}
	return e, nil
}

func requireString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func has(v cue.Value, field string) bool {
	return v.LookupPath(cue.ParsePath(field)).Exists()
}
