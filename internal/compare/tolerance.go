package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/roach88/difftrace/internal/ir"
)

// Tolerance bounds the error accepted between a reference value b and a
// candidate value a: |a-b| <= Atol + Rtol*|b|.
type Tolerance struct {
	Atol float64 `json:"atol" yaml:"atol"`
	Rtol float64 `json:"rtol" yaml:"rtol"`
}

// Allowed returns the error bound for reference value b.
func (t Tolerance) Allowed(b float64) float64 {
	return t.Atol + t.Rtol*math.Abs(b)
}

// ToleranceSpec holds one tolerance per dtype. Integer and bool dtypes are
// always compared bit-exactly; their entries must be zero.
type ToleranceSpec map[ir.DType]Tolerance

// DefaultToleranceSpec returns the default tolerances for every dtype.
func DefaultToleranceSpec() ToleranceSpec {
	return ToleranceSpec{
		ir.Float16: {Atol: 1e-3, Rtol: 1e-3},
		ir.Float32: {Atol: 1e-5, Rtol: 1e-5},
		ir.Float64: {Atol: 1e-7, Rtol: 1e-7},
		ir.Int32:   {},
		ir.Int64:   {},
		ir.Bool:    {},
	}
}

// Lookup returns the tolerance for dtype.
func (s ToleranceSpec) Lookup(dtype ir.DType) (Tolerance, bool) {
	t, ok := s[dtype]
	return t, ok
}

// Merge returns a copy of s with the entries of overrides replacing its own.
func (s ToleranceSpec) Merge(overrides ToleranceSpec) ToleranceSpec {
	out := make(ToleranceSpec, len(s)+len(overrides))
	for d, t := range s {
		out[d] = t
	}
	for d, t := range overrides {
		out[d] = t
	}
	return out
}

// Validate checks that every dtype has a tolerance, that bounds are finite
// and non-negative, and that exact dtypes have zero bounds.
func (s ToleranceSpec) Validate() error {
	for _, d := range ir.DTypes {
		if _, ok := s[d]; !ok {
			return fmt.Errorf("tolerances: no entry for dtype %s", d)
		}
	}
	dtypes := make([]string, 0, len(s))
	for d := range s {
		dtypes = append(dtypes, string(d))
	}
	sort.Strings(dtypes)
	for _, name := range dtypes {
		d := ir.DType(name)
		t := s[d]
		if !d.Valid() {
			return fmt.Errorf("tolerances: unknown dtype %q", name)
		}
		if !isBound(t.Atol) || !isBound(t.Rtol) {
			return fmt.Errorf("tolerances: %s bounds must be finite and non-negative (atol=%v, rtol=%v)", d, t.Atol, t.Rtol)
		}
		if !d.IsFloat() && (t.Atol != 0 || t.Rtol != 0) {
			return fmt.Errorf("tolerances: %s is compared exactly, atol and rtol must be 0", d)
		}
	}
	return nil
}

func isBound(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
