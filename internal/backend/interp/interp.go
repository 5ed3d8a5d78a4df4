// Package interp implements the reference tree-walking interpreter.
//
// The interpreter evaluates the checked AST directly with the ir kernels and
// is the default oracle. The "interp-f16" variant additionally rounds every
// floating-point intermediate to float16 precision, which makes it a cheap
// stand-in for a reduced-precision accelerator.
package interp

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// Registered backend names.
const (
	BackendName        = "interp"
	Float16BackendName = "interp-f16"
)

func init() {
	backend.Register(BackendName, New)
	backend.Register(Float16BackendName, NewFloat16)
}

// Backend is the interpreter backend.
type Backend struct {
	name     string
	via      ir.DType // float intermediates are rounded through this dtype when set
	maxSteps int
}

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = &Backend{}

// New constructs the full-precision interpreter.
func New(cfg backend.Config) (backend.Backend, error) {
	return &Backend{name: BackendName, maxSteps: cfg.MaxSteps}, nil
}

// NewFloat16 constructs the interpreter that rounds float intermediates to float16.
func NewFloat16(cfg backend.Config) (backend.Backend, error) {
	return &Backend{name: Float16BackendName, via: ir.Float16, maxSteps: cfg.MaxSteps}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Description implements backend.Backend.
func (b *Backend) Description() string {
	if b.via != "" {
		return "tree-walking interpreter, float intermediates rounded to " + string(b.via)
	}
	return "reference tree-walking interpreter"
}

// Compile implements backend.Backend. The interpreter needs no preparation
// beyond holding on to the checked program.
func (b *Backend) Compile(ctx context.Context, p *ir.Program) (backend.Executable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("interp: nil program")
	}
	return &executable{backend: b, program: p}, nil
}

type executable struct {
	backend *Backend
	program *ir.Program
	closed  atomic.Bool
}

// Invoke implements backend.Executable.
func (e *executable) Invoke(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error) {
	if e.closed.Load() {
		return nil, backend.ErrClosed
	}
	m, ok := e.program.Method(method)
	if !ok {
		return nil, errors.Wrapf(backend.ErrUnknownMethod, "%s: method %q", e.backend.name, method)
	}

	fr := &frame{
		via:    e.backend.via,
		vars:   make(map[string]*ir.Tensor, len(m.Inputs)),
		budget: backend.NewStepBudget(ctx, method, e.backend.maxSteps),
	}
	for i, p := range m.Inputs {
		fr.vars[p.Name] = inputs[i]
	}

	outputs, returned, err := fr.exec(m.Body)
	if err != nil {
		return nil, err
	}
	if !returned {
		return nil, errors.Errorf("%s: method %q finished without returning", e.backend.name, method)
	}
	return outputs, nil
}

// Close implements backend.Executable.
func (e *executable) Close() error {
	e.closed.Store(true)
	return nil
}

// frame holds the variables of one invocation.
type frame struct {
	via    ir.DType
	vars   map[string]*ir.Tensor
	budget *backend.StepBudget
}

func (f *frame) exec(body []ir.Stmt) ([]*ir.Tensor, bool, error) {
	for _, s := range body {
		switch st := s.(type) {
		case ir.Assign:
			v, err := f.eval(st.Expr)
			if err != nil {
				return nil, false, err
			}
			f.vars[st.Name] = v

		case ir.If:
			cond, err := f.truth(st.Cond)
			if err != nil {
				return nil, false, err
			}
			branch := st.Else
			if cond {
				branch = st.Then
			}
			if out, returned, err := f.exec(branch); err != nil || returned {
				return out, returned, err
			}

		case ir.While:
			for {
				if err := f.budget.Step(); err != nil {
					return nil, false, err
				}
				cond, err := f.truth(st.Cond)
				if err != nil {
					return nil, false, err
				}
				if !cond {
					break
				}
				if out, returned, err := f.exec(st.Body); err != nil || returned {
					return out, returned, err
				}
			}

		case ir.Return:
			out := make([]*ir.Tensor, len(st.Values))
			for i, e := range st.Values {
				v, err := f.eval(e)
				if err != nil {
					return nil, false, err
				}
				out[i] = v.Clone()
			}
			return out, true, nil

		default:
			return nil, false, errors.Errorf("unsupported statement %T", s)
		}
	}
	return nil, false, nil
}

func (f *frame) truth(e ir.Expr) (bool, error) {
	v, err := f.eval(e)
	if err != nil {
		return false, err
	}
	return v.Bool(0), nil
}

func (f *frame) eval(e ir.Expr) (*ir.Tensor, error) {
	switch ex := e.(type) {
	case ir.Const:
		return ir.ScalarOf(ex.DType, ex.Value), nil

	case ir.Var:
		v, ok := f.vars[ex.Name]
		if !ok {
			return nil, errors.Errorf("variable %q read before assignment", ex.Name)
		}
		return v, nil

	case ir.Binary:
		x, err := f.eval(ex.X)
		if err != nil {
			return nil, err
		}
		y, err := f.eval(ex.Y)
		if err != nil {
			return nil, err
		}
		out, err := ir.BinaryOp(ex.Op, x, y)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", ex)
		}
		return f.round(out), nil

	case ir.Unary:
		x, err := f.eval(ex.X)
		if err != nil {
			return nil, err
		}
		out, err := ir.UnaryOp(ex.Op, x)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", ex)
		}
		return f.round(out), nil

	case ir.Cast:
		x, err := f.eval(ex.X)
		if err != nil {
			return nil, err
		}
		out, err := x.Cast(ex.DType)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", ex)
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported expression %T", e)
}

func (f *frame) round(t *ir.Tensor) *ir.Tensor {
	if f.via == "" || !t.DType().IsFloat() {
		return t
	}
	return t.Quantize(f.via)
}
