package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Param is a named, typed method input.
type Param struct {
	Name  string `json:"name"`
	Shape Shape  `json:"shape"`
}

// Method is one callable entry point of a program: a signature and a body.
type Method struct {
	Name    string
	Inputs  []Param
	Outputs []Shape
	Body    []Stmt
}

// Signature renders the method signature, e.g. "collatz(a float32[]) -> (float32[])".
func (m *Method) Signature() string {
	ins := make([]string, len(m.Inputs))
	for i, p := range m.Inputs {
		ins[i] = fmt.Sprintf("%s %s", p.Name, p.Shape)
	}
	outs := make([]string, len(m.Outputs))
	for i, s := range m.Outputs {
		outs[i] = s.String()
	}
	return fmt.Sprintf("%s(%s) -> (%s)", m.Name, strings.Join(ins, ", "), strings.Join(outs, ", "))
}

// CheckInputs validates inputs against the declared signature.
// Returns a *SignatureError on arity, dtype or dimension mismatch.
func (m *Method) CheckInputs(inputs []*Tensor) error {
	if len(inputs) != len(m.Inputs) {
		return &SignatureError{
			Method:  m.Name,
			Index:   -1,
			Message: fmt.Sprintf("expected %d inputs, got %d", len(m.Inputs), len(inputs)),
		}
	}
	for i, p := range m.Inputs {
		if inputs[i] == nil {
			return &SignatureError{Method: m.Name, Index: i, Expected: p.Shape, Message: "input is nil"}
		}
		got := inputs[i].Shape()
		if !got.Equal(p.Shape) {
			return &SignatureError{
				Method:   m.Name,
				Index:    i,
				Expected: p.Shape,
				Actual:   got,
				Message:  fmt.Sprintf("input %q expects %s, got %s", p.Name, p.Shape, got),
			}
		}
	}
	return nil
}

// CheckOutputs validates values a backend returned against the declared outputs.
func (m *Method) CheckOutputs(outputs []*Tensor) error {
	if len(outputs) != len(m.Outputs) {
		return fmt.Errorf("method %s: expected %d outputs, got %d", m.Name, len(m.Outputs), len(outputs))
	}
	for i, want := range m.Outputs {
		if outputs[i] == nil {
			return fmt.Errorf("method %s: output %d is nil", m.Name, i)
		}
		if got := outputs[i].Shape(); !got.Equal(want) {
			return fmt.Errorf("method %s: output %d expects %s, got %s", m.Name, i, want, got)
		}
	}
	return nil
}

// SignatureError is returned when invocation inputs violate a method's declared signature.
// It is detected before the invocation reaches any backend.
type SignatureError struct {
	Method   string
	Index    int // input index, -1 for arity errors
	Expected Shape
	Actual   Shape
	Message  string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature error in %s: %s", e.Method, e.Message)
}

// Program is a named collection of methods. It is immutable once NewProgram
// returns it: callers must not modify the slices reachable from Methods.
type Program struct {
	name        string
	methods     []Method
	index       map[string]int
	fingerprint string
}

// NewProgram type-checks the methods and returns an immutable program.
//
// Untyped literals are resolved to concrete dtypes during checking, so the
// returned program's method bodies may differ from the ones passed in.
func NewProgram(name string, methods ...Method) (*Program, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("program name is required")
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("program %q: at least one method is required", name)
	}

	p := &Program{name: name, index: make(map[string]int, len(methods))}
	for _, m := range methods {
		m.Name = NormalizeName(m.Name)
		if m.Name == "" {
			return nil, fmt.Errorf("program %q: method name is required", name)
		}
		if _, dup := p.index[m.Name]; dup {
			return nil, fmt.Errorf("program %q: duplicate method %q", name, m.Name)
		}
		checked, err := checkMethod(m)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", name, err)
		}
		p.index[m.Name] = len(p.methods)
		p.methods = append(p.methods, checked)
	}

	fp, err := programFingerprint(p)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", name, err)
	}
	p.fingerprint = fp
	return p, nil
}

// MustNewProgram is like NewProgram but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNewProgram(name string, methods ...Method) *Program {
	p, err := NewProgram(name, methods...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the program name.
func (p *Program) Name() string {
	return p.name
}

// Methods returns the methods in declaration order.
func (p *Program) Methods() []Method {
	out := make([]Method, len(p.methods))
	copy(out, p.methods)
	return out
}

// Method looks a method up by name.
func (p *Program) Method(name string) (*Method, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	m := p.methods[i]
	return &m, true
}

// MethodNames returns method names in declaration order.
func (p *Program) MethodNames() []string {
	names := make([]string, len(p.methods))
	for i, m := range p.methods {
		names[i] = m.Name
	}
	return names
}

// Fingerprint is the content-addressed identity of the program: two programs
// with the same name, signatures and bodies share a fingerprint.
func (p *Program) Fingerprint() string {
	return p.fingerprint
}

// NormalizeName NFC-normalizes and trims an identifier so that visually
// identical names compare equal across scenario files and Go code.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
