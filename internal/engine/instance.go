package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// Instance is a program compiled on one backend. It validates every
// invocation against the program's signatures before the backend sees it,
// hands the backend its own copy of the inputs, and turns backend failures
// (including panics and timeouts) into *Error.
//
// Instances are owned by the Registry that compiled them.
type Instance struct {
	backend string
	program *ir.Program
	exe     backend.Executable
	timeout time.Duration
	logger  *slog.Logger

	invocations atomic.Int64
	closed      atomic.Bool
}

// Backend returns the name of the backend the instance runs on.
func (i *Instance) Backend() string {
	return i.backend
}

// Program returns the compiled program.
func (i *Instance) Program() *ir.Program {
	return i.program
}

// Invocations returns the number of invocations that reached the backend.
func (i *Instance) Invocations() int64 {
	return i.invocations.Load()
}

type invokeResult struct {
	outputs []*ir.Tensor
	err     error
}

// Invoke runs method on inputs.
//
// Inputs that violate the method signature fail with ErrCodeSignature
// without reaching the backend. The returned tensors are owned by the caller.
func (i *Instance) Invoke(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error) {
	m, ok := i.program.Method(method)
	if !ok {
		return nil, newSignatureError(method, fmt.Errorf("%w: program %q has no method %q", backend.ErrUnknownMethod, i.program.Name(), method))
	}
	if err := m.CheckInputs(inputs); err != nil {
		return nil, newSignatureError(method, err)
	}
	if i.closed.Load() {
		return nil, &Error{Code: ErrCodeRuntime, Message: "instance released", Backend: i.backend, Method: method, Err: backend.ErrClosed}
	}

	owned := make([]*ir.Tensor, len(inputs))
	for k, t := range inputs {
		owned[k] = t.Clone()
	}

	ictx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	i.invocations.Add(1)
	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("backend panic",
					"backend", i.backend,
					"method", method,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- invokeResult{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		outs, err := i.exe.Invoke(ictx, method, owned)
		done <- invokeResult{outputs: outs, err: err}
	}()

	var res invokeResult
	select {
	case res = <-done:
	case <-ictx.Done():
		// The backend goroutine is abandoned; it drains into the buffered channel.
		res = invokeResult{err: ictx.Err()}
	}

	if res.err != nil {
		timedOut := errors.Is(ictx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		err := classifyInvokeError(ctx, i.backend, method, timedOut, res.err)
		if err.Code == ErrCodeTimeout {
			err.Message = fmt.Sprintf("invocation exceeded %s: %v", i.timeout, res.err)
		}
		return nil, err
	}

	if err := m.CheckOutputs(res.outputs); err != nil {
		return nil, &Error{Code: ErrCodeRuntime, Message: err.Error(), Backend: i.backend, Method: method, Err: err}
	}
	outs := make([]*ir.Tensor, len(res.outputs))
	for k, t := range res.outputs {
		outs[k] = t.Clone()
	}
	return outs, nil
}

func (i *Instance) close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.exe.Close()
}
