// Package compare aligns a candidate trace against a reference trace and
// applies the per-dtype tolerance policy.
//
// Traces must have equal length; each position must call the same method and
// produce outputs of matching dtype and dimensions; float elements pass when
// |a-b| <= atol + rtol*|b| (b the reference), integers and bools only when
// bit-exact. NaN equals NaN at the same element, and infinities must match
// sign. By default comparison stops at the first divergence.
package compare

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// Result is the outcome of comparing one candidate trace to the reference.
type Result struct {
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
	Pass      bool   `json:"pass"`

	// First is the first divergence in trace order, nil when Pass.
	First *Mismatch `json:"first,omitempty"`

	// Mismatches holds every divergence found; only the first unless report-all.
	Mismatches []Mismatch `json:"mismatches,omitempty"`

	// Compared is the number of positions examined.
	Compared int `json:"compared"`

	// MaxAbsError is the largest |a-b| over finite element pairs examined.
	MaxAbsError float64 `json:"max_abs_error"`
}

// Err returns the first mismatch as an error, nil when the comparison passed.
func (r *Result) Err() error {
	if r.Pass || r.First == nil {
		return nil
	}
	return r.First
}

// Option configures a comparison.
type Option func(*options)

type options struct {
	reportAll bool
}

// WithReportAll keeps comparing after the first divergence and records all of them.
// A LengthMismatch still stops the comparison immediately.
func WithReportAll() Option {
	return func(o *options) { o.reportAll = true }
}

// Compare checks candidate against reference. It returns an error only when
// the inputs cannot be compared at all, e.g. a dtype has no tolerance.
func Compare(reference, candidate *trace.Trace, spec ToleranceSpec, opts ...Option) (*Result, error) {
	if reference == nil || candidate == nil {
		return nil, fmt.Errorf("compare: nil trace")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := &Result{Reference: reference.Backend, Candidate: candidate.Backend, Pass: true}
	add := func(m Mismatch) bool {
		res.Pass = false
		res.Mismatches = append(res.Mismatches, m)
		res.First = &res.Mismatches[0]
		return o.reportAll
	}

	if reference.Len() != candidate.Len() {
		add(Mismatch{
			Kind:     LengthMismatch,
			Position: min(reference.Len(), candidate.Len()),
			Expected: strconv.Itoa(reference.Len()),
			Actual:   strconv.Itoa(candidate.Len()),
		})
		return res, nil
	}

	for i := range reference.Entries {
		ref, cand := reference.Entries[i], candidate.Entries[i]
		res.Compared++

		if ref.Method != cand.Method {
			if !add(Mismatch{Kind: ShapeMismatch, Position: i, Method: ref.Method, Expected: ref.Method, Actual: cand.Method, Detail: "different method"}) {
				return res, nil
			}
			continue
		}
		if len(ref.Outputs) != len(cand.Outputs) {
			m := Mismatch{
				Kind: ShapeMismatch, Position: i, Method: ref.Method,
				Expected: fmt.Sprintf("%d outputs", len(ref.Outputs)),
				Actual:   fmt.Sprintf("%d outputs", len(cand.Outputs)),
			}
			if !add(m) {
				return res, nil
			}
			continue
		}

		for j := range ref.Outputs {
			m, maxAbs, err := compareTensors(ref.Outputs[j], cand.Outputs[j], spec)
			if err != nil {
				return nil, fmt.Errorf("compare position %d output %d: %w", i, j, err)
			}
			res.MaxAbsError = math.Max(res.MaxAbsError, maxAbs)
			if m == nil {
				continue
			}
			m.Position, m.Method, m.Output = i, ref.Method, j
			if !add(*m) {
				return res, nil
			}
		}
	}
	return res, nil
}

// CompareValues checks a single candidate tensor against an expected one.
// It returns nil when they agree within tolerance.
func CompareValues(expected, actual *ir.Tensor, spec ToleranceSpec) (*Mismatch, error) {
	m, _, err := compareTensors(expected, actual, spec)
	return m, err
}

// compareTensors returns the first element of cand that fails against ref,
// plus the largest finite absolute error seen.
func compareTensors(ref, cand *ir.Tensor, spec ToleranceSpec) (*Mismatch, float64, error) {
	if ref == nil || cand == nil {
		return nil, 0, fmt.Errorf("nil tensor")
	}
	rs, cs := ref.Shape(), cand.Shape()
	if !rs.Equal(cs) {
		return &Mismatch{Kind: ShapeMismatch, Expected: rs.String(), Actual: cs.String()}, 0, nil
	}
	tol, ok := spec.Lookup(rs.DType)
	if !ok {
		return nil, 0, fmt.Errorf("no tolerance for dtype %s", rs.DType)
	}

	var first *Mismatch
	count := 0
	var finiteRef, finiteCand []float64

	for k := 0; k < ref.Size(); k++ {
		var errMag, allowed float64
		var ok bool
		switch {
		case rs.DType.IsFloat():
			b, a := ref.Float(k), cand.Float(k)
			errMag, allowed, ok = compareFloat(a, b, tol)
			if !math.IsInf(a, 0) && !math.IsNaN(a) && !math.IsInf(b, 0) && !math.IsNaN(b) {
				finiteRef = append(finiteRef, b)
				finiteCand = append(finiteCand, a)
			}
		case rs.DType.IsInteger():
			b, a := ref.Int(k), cand.Int(k)
			ok = a == b
			errMag = math.Abs(float64(a) - float64(b))
		default:
			ok = ref.Bool(k) == cand.Bool(k)
			if !ok {
				errMag = 1
			}
		}
		if ok {
			continue
		}
		count++
		if first == nil {
			first = &Mismatch{
				Kind:     ToleranceExceeded,
				Element:  k,
				Expected: elementString(ref, k),
				Actual:   elementString(cand, k),
				AbsError: errMag,
				Allowed:  allowed,
			}
		}
	}

	var maxAbs float64
	if len(finiteRef) > 0 {
		maxAbs = floats.Distance(finiteCand, finiteRef, math.Inf(1))
	}
	if first != nil {
		first.Count = count
	}
	return first, maxAbs, nil
}

// compareFloat applies the float policy to candidate a and reference b.
func compareFloat(a, b float64, tol Tolerance) (errMag, allowed float64, ok bool) {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0, 0, true
	case aNaN || bNaN:
		return math.Inf(1), 0, false
	case math.IsInf(a, 0) || math.IsInf(b, 0):
		if a == b {
			return 0, 0, true
		}
		// No tolerance applies to a non-finite mismatch.
		return math.Inf(1), 0, false
	}
	errMag = math.Abs(a - b)
	allowed = tol.Allowed(b)
	return errMag, allowed, errMag <= allowed
}

func elementString(t *ir.Tensor, k int) string {
	switch {
	case t.DType().IsFloat():
		return ir.FormatFloat(t.Float(k))
	case t.DType().IsInteger():
		return strconv.FormatInt(t.Int(k), 10)
	}
	return strconv.FormatBool(t.Bool(k))
}
