package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// Module is the handle a scenario function drives: one backend's compiled
// program plus the recorder of the run.
//
// Every successful Call is recorded before it returns. The first failed Call
// latches: later calls return the same error without invoking the backend,
// so a scenario that ignores an error still ends Errored.
type Module struct {
	inst     *Instance
	recorder *trace.Recorder

	mu  sync.Mutex
	err error
}

func newModule(inst *Instance, rec *trace.Recorder) *Module {
	return &Module{inst: inst, recorder: rec}
}

// Backend returns the backend name the module runs on.
func (m *Module) Backend() string {
	return m.inst.Backend()
}

// Program returns the compiled program.
func (m *Module) Program() *ir.Program {
	return m.inst.Program()
}

// Call invokes method with inputs and returns its outputs.
func (m *Module) Call(ctx context.Context, method string, inputs ...*ir.Tensor) ([]*ir.Tensor, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}
	outs, err := m.inst.Invoke(ctx, method, inputs)
	if err != nil {
		m.mu.Lock()
		if m.err == nil {
			m.err = err
		}
		m.mu.Unlock()
		return nil, err
	}
	m.recorder.Record(method, inputs, outs)
	return outs, nil
}

// Call1 is Call for methods with exactly one output.
func (m *Module) Call1(ctx context.Context, method string, inputs ...*ir.Tensor) (*ir.Tensor, error) {
	outs, err := m.Call(ctx, method, inputs...)
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, &Error{
			Code:    ErrCodeSignature,
			Message: fmt.Sprintf("Call1 on a method with %d outputs", len(outs)),
			Backend: m.Backend(),
			Method:  method,
		}
	}
	return outs[0], nil
}

// Err returns the latched error of the first failed call, if any.
func (m *Module) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Len returns the number of recorded invocations.
func (m *Module) Len() int {
	return m.recorder.Len()
}
