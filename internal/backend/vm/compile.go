package vm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/roach88/difftrace/internal/ir"
)

type opcode uint8

const (
	opConst       opcode = iota // push consts[arg]
	opLoad                      // push slots[arg]
	opStore                     // pop into slots[arg]
	opBinary                    // pop y, pop x, push op(x, y)
	opUnary                     // pop x, push op(x)
	opCast                      // pop x, push cast(x, dtype)
	opLoop                      // spend one step of the budget
	opJump                      // pc = arg
	opJumpIfFalse               // pop cond; if false, pc = arg
	opReturn                    // pop arg values, return them in push order
)

var opcodeNames = [...]string{
	opConst:       "CONST",
	opLoad:        "LOAD",
	opStore:       "STORE",
	opBinary:      "BINARY",
	opUnary:       "UNARY",
	opCast:        "CAST",
	opLoop:        "LOOP",
	opJump:        "JUMP",
	opJumpIfFalse: "JUMP_IF_FALSE",
	opReturn:      "RETURN",
}

func (o opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", o)
}

type instr struct {
	op    opcode
	arg   int
	alu   ir.Op
	dtype ir.DType
}

func (in instr) String() string {
	switch in.op {
	case opBinary, opUnary:
		return fmt.Sprintf("%s %s", in.op, in.alu)
	case opCast:
		return fmt.Sprintf("%s %s", in.op, in.dtype)
	}
	return fmt.Sprintf("%s %d", in.op, in.arg)
}

// function is the bytecode of one method.
type function struct {
	name   string
	code   []instr
	consts []*ir.Tensor
	slots  int // number of variable slots; inputs occupy the first ones
	inputs int
}

// codegen lowers one checked method to bytecode.
type codegen struct {
	fn    *function
	slots map[string]int
}

func compileMethod(m ir.Method) (*function, error) {
	g := &codegen{
		fn:    &function{name: m.Name, inputs: len(m.Inputs)},
		slots: make(map[string]int),
	}
	for _, p := range m.Inputs {
		g.slot(p.Name)
	}
	// Loop conditions may read variables first assigned in the loop body,
	// so every assigned variable gets its slot before code is emitted.
	assigned(m.Body, func(name string) { g.slot(name) })
	if err := g.block(m.Body); err != nil {
		return nil, errors.Wrapf(err, "compiling method %s", m.Name)
	}
	g.fn.slots = len(g.slots)
	return g.fn, nil
}

func (g *codegen) slot(name string) int {
	if i, ok := g.slots[name]; ok {
		return i
	}
	i := len(g.slots)
	g.slots[name] = i
	return i
}

func assigned(body []ir.Stmt, visit func(string)) {
	for _, s := range body {
		switch st := s.(type) {
		case ir.Assign:
			visit(st.Name)
		case ir.If:
			assigned(st.Then, visit)
			assigned(st.Else, visit)
		case ir.While:
			assigned(st.Body, visit)
		}
	}
}

func (g *codegen) emit(in instr) int {
	g.fn.code = append(g.fn.code, in)
	return len(g.fn.code) - 1
}

func (g *codegen) block(body []ir.Stmt) error {
	for _, s := range body {
		if err := g.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (g *codegen) stmt(s ir.Stmt) error {
	switch st := s.(type) {
	case ir.Assign:
		if err := g.expr(st.Expr); err != nil {
			return err
		}
		g.emit(instr{op: opStore, arg: g.slot(st.Name)})

	case ir.If:
		if err := g.expr(st.Cond); err != nil {
			return err
		}
		jumpElse := g.emit(instr{op: opJumpIfFalse})
		if err := g.block(st.Then); err != nil {
			return err
		}
		jumpEnd := g.emit(instr{op: opJump})
		g.fn.code[jumpElse].arg = len(g.fn.code)
		if err := g.block(st.Else); err != nil {
			return err
		}
		g.fn.code[jumpEnd].arg = len(g.fn.code)

	case ir.While:
		top := g.emit(instr{op: opLoop})
		if err := g.expr(st.Cond); err != nil {
			return err
		}
		exit := g.emit(instr{op: opJumpIfFalse})
		if err := g.block(st.Body); err != nil {
			return err
		}
		g.emit(instr{op: opJump, arg: top})
		g.fn.code[exit].arg = len(g.fn.code)

	case ir.Return:
		for _, v := range st.Values {
			if err := g.expr(v); err != nil {
				return err
			}
		}
		g.emit(instr{op: opReturn, arg: len(st.Values)})

	default:
		return errors.Errorf("unsupported statement %T", s)
	}
	return nil
}

func (g *codegen) expr(e ir.Expr) error {
	if c, ok, err := fold(e); err != nil {
		return err
	} else if ok {
		g.fn.consts = append(g.fn.consts, c)
		g.emit(instr{op: opConst, arg: len(g.fn.consts) - 1})
		return nil
	}

	switch ex := e.(type) {
	case ir.Var:
		i, ok := g.slots[ex.Name]
		if !ok {
			return errors.Errorf("variable %q read before assignment", ex.Name)
		}
		g.emit(instr{op: opLoad, arg: i})

	case ir.Binary:
		if err := g.expr(ex.X); err != nil {
			return err
		}
		if err := g.expr(ex.Y); err != nil {
			return err
		}
		g.emit(instr{op: opBinary, alu: ex.Op})

	case ir.Unary:
		if err := g.expr(ex.X); err != nil {
			return err
		}
		g.emit(instr{op: opUnary, alu: ex.Op})

	case ir.Cast:
		if err := g.expr(ex.X); err != nil {
			return err
		}
		g.emit(instr{op: opCast, dtype: ex.DType})

	default:
		return errors.Errorf("unsupported expression %T", e)
	}
	return nil
}

// fold evaluates e at compile time when it only depends on constants.
// Integer division by zero is left for run time so it fails on invocation.
func fold(e ir.Expr) (*ir.Tensor, bool, error) {
	switch ex := e.(type) {
	case ir.Const:
		return ir.ScalarOf(ex.DType, ex.Value), true, nil
	case ir.Binary:
		x, okx, err := fold(ex.X)
		if err != nil || !okx {
			return nil, false, err
		}
		y, oky, err := fold(ex.Y)
		if err != nil || !oky {
			return nil, false, err
		}
		out, err := ir.BinaryOp(ex.Op, x, y)
		if errors.Is(err, ir.ErrDivideByZero) {
			return nil, false, nil
		}
		return out, err == nil, err
	case ir.Unary:
		x, ok, err := fold(ex.X)
		if err != nil || !ok {
			return nil, false, err
		}
		out, err := ir.UnaryOp(ex.Op, x)
		return out, err == nil, err
	case ir.Cast:
		x, ok, err := fold(ex.X)
		if err != nil || !ok {
			return nil, false, err
		}
		out, err := x.Cast(ex.DType)
		return out, err == nil, err
	}
	return nil, false, nil
}
