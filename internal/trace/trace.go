// Package trace records the invocations of one scenario run on one backend.
//
// A Trace is an ordered list of entries, one per successful invocation, each
// holding deep copies of the inputs and outputs. Traces are the unit the
// comparator aligns, the store persists and golden files snapshot.
package trace

import (
	"fmt"
	"strings"

	"github.com/roach88/difftrace/internal/ir"
)

// Entry is one invocation and the outputs it produced.
type Entry struct {
	Seq     int64        `json:"seq"`
	Method  string       `json:"method"`
	Inputs  []*ir.Tensor `json:"inputs"`
	Outputs []*ir.Tensor `json:"outputs"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	return Entry{
		Seq:     e.Seq,
		Method:  e.Method,
		Inputs:  cloneTensors(e.Inputs),
		Outputs: cloneTensors(e.Outputs),
	}
}

// String renders the entry as "method(in, ...) -> (out, ...)".
func (e Entry) String() string {
	return fmt.Sprintf("#%d %s(%s) -> (%s)", e.Seq, e.Method, joinTensors(e.Inputs), joinTensors(e.Outputs))
}

// Trace is the ordered record of one (scenario, backend) run.
type Trace struct {
	Scenario string  `json:"scenario"`
	Backend  string  `json:"backend"`
	Entries  []Entry `json:"entries"`
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// Clone returns a deep copy of t.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	out := &Trace{Scenario: t.Scenario, Backend: t.Backend, Entries: make([]Entry, len(t.Entries))}
	for i, e := range t.Entries {
		out.Entries[i] = e.Clone()
	}
	return out
}

// Methods returns the method name of each entry, in order.
func (t *Trace) Methods() []string {
	names := make([]string, t.Len())
	for i, e := range t.Entries {
		names[i] = e.Method
	}
	return names
}

func cloneTensors(ts []*ir.Tensor) []*ir.Tensor {
	out := make([]*ir.Tensor, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

func joinTensors(ts []*ir.Tensor) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
