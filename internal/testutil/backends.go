package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// InvokeFunc scripts the behaviour of a FakeBackend executable.
type InvokeFunc func(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error)

// OutputHook rewrites the outputs of a wrapped backend.
type OutputHook func(method string, inputs, outputs []*ir.Tensor) ([]*ir.Tensor, error)

// FakeBackend is a scripted backend for tests. It either delegates to an
// inner backend (optionally rewriting its outputs) or answers every
// invocation with an InvokeFunc.
//
// It counts compiles, invocations and closes so tests can assert the
// compile-once and release-on-close guarantees.
type FakeBackend struct {
	name string

	inner  backend.Backend
	hook   OutputHook
	invoke InvokeFunc

	// CompileErr, when set, is returned by every Compile call.
	CompileErr error

	// CompileDelay makes Compile block, honouring ctx, to widen race windows.
	CompileDelay time.Duration

	compiles atomic.Int64
	invokes  atomic.Int64
	closes   atomic.Int64
}

// Compile-time check that FakeBackend implements backend.Backend.
var _ backend.Backend = &FakeBackend{}

// NewFakeBackend returns a backend whose executables answer with fn.
func NewFakeBackend(name string, fn InvokeFunc) *FakeBackend {
	return &FakeBackend{name: name, invoke: fn}
}

// WrapBackend returns a backend named name that runs inner and passes every
// result through hook. A nil hook leaves outputs unchanged.
func WrapBackend(name string, inner backend.Backend, hook OutputHook) *FakeBackend {
	return &FakeBackend{name: name, inner: inner, hook: hook}
}

// Name implements backend.Backend.
func (b *FakeBackend) Name() string { return b.name }

// Description implements backend.Backend.
func (b *FakeBackend) Description() string { return "scripted test backend" }

// Compile implements backend.Backend.
func (b *FakeBackend) Compile(ctx context.Context, p *ir.Program) (backend.Executable, error) {
	b.compiles.Add(1)
	if b.CompileDelay > 0 {
		select {
		case <-time.After(b.CompileDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.CompileErr != nil {
		return nil, b.CompileErr
	}
	exe := &fakeExecutable{backend: b}
	if b.inner != nil {
		innerExe, err := b.inner.Compile(ctx, p)
		if err != nil {
			return nil, err
		}
		exe.inner = innerExe
	}
	return exe, nil
}

// Compiles returns the number of Compile calls.
func (b *FakeBackend) Compiles() int64 { return b.compiles.Load() }

// Invokes returns the number of Invoke calls.
func (b *FakeBackend) Invokes() int64 { return b.invokes.Load() }

// Closes returns the number of executables closed.
func (b *FakeBackend) Closes() int64 { return b.closes.Load() }

type fakeExecutable struct {
	backend *FakeBackend
	inner   backend.Executable
	closed  atomic.Bool
}

func (e *fakeExecutable) Invoke(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error) {
	e.backend.invokes.Add(1)
	if e.closed.Load() {
		return nil, backend.ErrClosed
	}
	if e.inner == nil {
		return e.backend.invoke(ctx, method, inputs)
	}
	outs, err := e.inner.Invoke(ctx, method, inputs)
	if err != nil || e.backend.hook == nil {
		return outs, err
	}
	return e.backend.hook(method, inputs, outs)
}

func (e *fakeExecutable) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.backend.closes.Add(1)
		if e.inner != nil {
			return e.inner.Close()
		}
	}
	return nil
}

// Returning answers every invocation with clones of outs.
func Returning(outs ...*ir.Tensor) InvokeFunc {
	return func(context.Context, string, []*ir.Tensor) ([]*ir.Tensor, error) {
		clones := make([]*ir.Tensor, len(outs))
		for i, o := range outs {
			clones[i] = o.Clone()
		}
		return clones, nil
	}
}

// Failing answers every invocation with err.
func Failing(err error) InvokeFunc {
	return func(context.Context, string, []*ir.Tensor) ([]*ir.Tensor, error) {
		return nil, err
	}
}

// Blocking waits for the context and returns its error.
func Blocking() InvokeFunc {
	return func(ctx context.Context, _ string, _ []*ir.Tensor) ([]*ir.Tensor, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Panicking panics with v on every invocation.
func Panicking(v any) InvokeFunc {
	return func(context.Context, string, []*ir.Tensor) ([]*ir.Tensor, error) {
		panic(v)
	}
}

// AddToOutputs returns a hook that adds delta to every float output.
func AddToOutputs(delta float64) OutputHook {
	return func(_ string, _, outputs []*ir.Tensor) ([]*ir.Tensor, error) {
		out := make([]*ir.Tensor, len(outputs))
		for i, o := range outputs {
			if !o.DType().IsFloat() {
				out[i] = o
				continue
			}
			vals := o.Floats()
			for j := range vals {
				vals[j] += delta
			}
			t, err := ir.FromFloats(o.DType(), o.Shape().Dims, vals)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
}

// CastOutputs returns a hook that casts every output to dtype.
func CastOutputs(dtype ir.DType) OutputHook {
	return func(_ string, _, outputs []*ir.Tensor) ([]*ir.Tensor, error) {
		out := make([]*ir.Tensor, len(outputs))
		for i, o := range outputs {
			t, err := o.Cast(dtype)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
}
