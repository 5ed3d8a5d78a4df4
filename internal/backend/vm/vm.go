// Package vm implements a bytecode backend: methods are lowered to a small
// stack-machine instruction set at compile time, with constant folding, and
// run by a dispatch loop.
package vm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// BackendName is the registered name of the bytecode backend.
const BackendName = "vm"

func init() {
	backend.Register(BackendName, New)
}

// Backend is the bytecode backend.
type Backend struct {
	maxSteps int
}

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = &Backend{}

// New constructs the bytecode backend.
func New(cfg backend.Config) (backend.Backend, error) {
	return &Backend{maxSteps: cfg.MaxSteps}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backend.Backend.
func (b *Backend) Description() string { return "bytecode compiler and stack machine" }

// Compile implements backend.Backend.
func (b *Backend) Compile(ctx context.Context, p *ir.Program) (backend.Executable, error) {
	if p == nil {
		return nil, errors.New("vm: nil program")
	}
	exe := &Executable{backend: b, functions: make(map[string]*function)}
	for _, m := range p.Methods() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fn, err := compileMethod(m)
		if err != nil {
			return nil, errors.Wrapf(err, "vm: program %s", p.Name())
		}
		exe.functions[m.Name] = fn
	}
	return exe, nil
}

// Executable is a compiled program.
type Executable struct {
	backend   *Backend
	functions map[string]*function
	closed    atomic.Bool
}

// Compile-time check that Executable implements backend.Executable.
var _ backend.Executable = &Executable{}

// Invoke implements backend.Executable. Each call gets its own stack and
// slots, so concurrent calls do not interfere.
func (e *Executable) Invoke(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error) {
	if e.closed.Load() {
		return nil, backend.ErrClosed
	}
	fn, ok := e.functions[method]
	if !ok {
		return nil, errors.Wrapf(backend.ErrUnknownMethod, "vm: method %q", method)
	}
	if len(inputs) != fn.inputs {
		return nil, errors.Errorf("vm: method %s takes %d inputs, got %d", method, fn.inputs, len(inputs))
	}
	return run(fn, inputs, backend.NewStepBudget(ctx, method, e.backend.maxSteps))
}

// Close implements backend.Executable.
func (e *Executable) Close() error {
	e.closed.Store(true)
	return nil
}

// Disassemble renders the bytecode of a method, for debugging.
func (e *Executable) Disassemble(method string) (string, error) {
	fn, ok := e.functions[method]
	if !ok {
		return "", errors.Wrapf(backend.ErrUnknownMethod, "vm: method %q", method)
	}
	var buf strings.Builder
	for pc, in := range fn.code {
		fmt.Fprintf(&buf, "%04d %s", pc, in)
		if in.op == opConst {
			fmt.Fprintf(&buf, " ; %s", fn.consts[in.arg])
		}
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

func run(fn *function, inputs []*ir.Tensor, budget *backend.StepBudget) ([]*ir.Tensor, error) {
	slots := make([]*ir.Tensor, fn.slots)
	copy(slots, inputs)
	stack := make([]*ir.Tensor, 0, 16)

	pop := func() *ir.Tensor {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for pc := 0; pc < len(fn.code); {
		in := fn.code[pc]
		pc++
		switch in.op {
		case opConst:
			stack = append(stack, fn.consts[in.arg])

		case opLoad:
			v := slots[in.arg]
			if v == nil {
				return nil, errors.Errorf("vm: %s: slot %d read before assignment", fn.name, in.arg)
			}
			stack = append(stack, v)

		case opStore:
			slots[in.arg] = pop()

		case opBinary:
			y := pop()
			x := pop()
			out, err := ir.BinaryOp(in.alu, x, y)
			if err != nil {
				return nil, errors.Wrapf(err, "vm: %s: pc %d", fn.name, pc-1)
			}
			stack = append(stack, out)

		case opUnary:
			out, err := ir.UnaryOp(in.alu, pop())
			if err != nil {
				return nil, errors.Wrapf(err, "vm: %s: pc %d", fn.name, pc-1)
			}
			stack = append(stack, out)

		case opCast:
			out, err := pop().Cast(in.dtype)
			if err != nil {
				return nil, errors.Wrapf(err, "vm: %s: pc %d", fn.name, pc-1)
			}
			stack = append(stack, out)

		case opLoop:
			if err := budget.Step(); err != nil {
				return nil, err
			}

		case opJump:
			pc = in.arg

		case opJumpIfFalse:
			if !pop().Bool(0) {
				pc = in.arg
			}

		case opReturn:
			out := make([]*ir.Tensor, in.arg)
			for i := in.arg - 1; i >= 0; i-- {
				out[i] = pop().Clone()
			}
			return out, nil

		default:
			return nil, errors.Errorf("vm: %s: bad opcode %s at pc %d", fn.name, in.op, pc-1)
		}
	}
	return nil, errors.Errorf("vm: method %s finished without returning", fn.name)
}
