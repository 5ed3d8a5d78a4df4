package trace

import (
	"sync"

	"github.com/roach88/difftrace/internal/ir"
)

// Sequencer hands out increasing sequence numbers.
// engine.Clock and testutil.DeterministicClock implement it.
type Sequencer interface {
	Next() int64
}

// Recorder accumulates the trace of one (scenario, backend) run.
//
// Record copies the tensors it is given, so callers may reuse or mutate them
// afterwards. Recorder is safe for concurrent use, although a scenario run
// records sequentially.
type Recorder struct {
	mu    sync.Mutex
	seq   Sequencer
	trace Trace
}

// NewRecorder opens a fresh trace. When seq is nil, entries are numbered 1, 2, 3...
func NewRecorder(scenario, backend string, seq Sequencer) *Recorder {
	if seq == nil {
		seq = &counter{}
	}
	return &Recorder{
		seq:   seq,
		trace: Trace{Scenario: scenario, Backend: backend, Entries: []Entry{}},
	}
}

// Record appends an invocation and returns the entry's sequence number.
func (r *Recorder) Record(method string, inputs, outputs []*ir.Tensor) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := Entry{
		Seq:     r.seq.Next(),
		Method:  method,
		Inputs:  cloneTensors(inputs),
		Outputs: cloneTensors(outputs),
	}
	r.trace.Entries = append(r.trace.Entries, e)
	return e.Seq
}

// Len returns the number of entries recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trace.Entries)
}

// Snapshot returns a deep copy of the trace recorded so far.
func (r *Recorder) Snapshot() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace.Clone()
}

type counter struct{ n int64 }

func (c *counter) Next() int64 {
	c.n++
	return c.n
}
