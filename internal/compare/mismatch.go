package compare

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/difftrace/internal/ir"
)

// Kind classifies a divergence between two traces.
type Kind string

const (
	// LengthMismatch: the traces hold a different number of invocations.
	LengthMismatch Kind = "LengthMismatch"

	// ShapeMismatch: an output differs in count, dtype or dimensions, or the
	// invocation at that position called a different method.
	ShapeMismatch Kind = "ShapeMismatch"

	// ToleranceExceeded: an element differs by more than the tolerance allows.
	ToleranceExceeded Kind = "ToleranceExceeded"
)

// Mismatch describes one divergence. Expected is the reference side and
// Actual the candidate side.
type Mismatch struct {
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"`
	Method   string `json:"method,omitempty"`
	Output   int    `json:"output"`
	Element  int    `json:"element"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`

	// AbsError is |actual-expected|; +Inf when exactly one side is NaN or the
	// infinities differ. Allowed is the bound it was checked against.
	AbsError float64 `json:"-"`
	Allowed  float64 `json:"allowed"`

	// Count is the number of failing elements in this output.
	Count  int    `json:"count,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Error implements the error interface. The message always names the
// position, expected value, actual value and error magnitude.
func (m *Mismatch) Error() string {
	switch m.Kind {
	case LengthMismatch:
		return fmt.Sprintf("%s: expected %s invocations, got %s", m.Kind, m.Expected, m.Actual)
	case ShapeMismatch:
		return fmt.Sprintf("%s at position %d (%s output %d): expected %s, got %s",
			m.Kind, m.Position, m.Method, m.Output, m.Expected, m.Actual)
	}
	msg := fmt.Sprintf("%s at position %d (%s output %d element %d): expected %s, actual %s, error %s > allowed %s",
		m.Kind, m.Position, m.Method, m.Output, m.Element, m.Expected, m.Actual,
		ir.FormatFloat(m.AbsError), ir.FormatFloat(m.Allowed))
	if m.Count > 1 {
		msg += fmt.Sprintf(" (%d elements differ)", m.Count)
	}
	return msg
}

// MarshalJSON encodes AbsError as a number, or as "NaN"/"+Inf"/"-Inf" when it
// is not finite.
func (m Mismatch) MarshalJSON() ([]byte, error) {
	type plain Mismatch
	var errVal any = m.AbsError
	if math.IsInf(m.AbsError, 0) || math.IsNaN(m.AbsError) {
		errVal = ir.FormatFloat(m.AbsError)
	}
	return json.Marshal(struct {
		plain
		AbsError any `json:"error"`
	}{plain: plain(m), AbsError: errVal})
}

// UnmarshalJSON decodes the form MarshalJSON writes.
func (m *Mismatch) UnmarshalJSON(data []byte) error {
	type plain Mismatch
	var w struct {
		plain
		AbsError json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Mismatch(w.plain)
	if len(w.AbsError) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.AbsError, &s); err == nil {
		v, err := ir.ParseFloat(s)
		if err != nil {
			return err
		}
		m.AbsError = v
		return nil
	}
	return json.Unmarshal(w.AbsError, &m.AbsError)
}
