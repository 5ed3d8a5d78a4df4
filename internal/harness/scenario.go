package harness

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/difftrace/internal/ir"
)

// Scenario defines a differential test scenario: a program, a sequence of
// invocations run on every backend, and assertions on the resulting traces.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the CUE program definition.
	// Relative paths are resolved against the scenario file's directory.
	Program string `yaml:"program"`

	// Steps are invoked in order on every backend.
	Steps []Step `yaml:"steps"`

	// Assertions validate the traces after the run.
	// Supported types: trace_count, trace_order, trace_length, oracle_output, verdict
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// Step is one invocation.
type Step struct {
	// Call is the method name.
	Call string `yaml:"call"`

	// Inputs are the method arguments, in signature order.
	Inputs []Literal `yaml:"inputs"`

	// Expect, when present, is checked against the oracle's outputs for
	// this step using the session tolerances.
	Expect []Literal `yaml:"expect,omitempty"`
}

// Literal is a tensor written inline in a scenario file:
//
//	{dtype: float32, value: 9}
//	{dtype: int32, dims: [3], values: [1, 2, 3]}
//	{dtype: float32, value: NaN}
type Literal struct {
	DType  string `yaml:"dtype"`
	Dims   []int  `yaml:"dims,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Values []any  `yaml:"values,omitempty"`
}

// Assertion validates a trace or the verdict.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": method appears exactly Count times
	// - "trace_order": Methods appear in order (not necessarily adjacent)
	// - "trace_length": the trace has exactly Count entries
	// - "oracle_output": output Output of entry Position equals Expect
	// - "verdict": the scenario verdict equals Verdict
	Type string `yaml:"type"`

	// Backend selects the trace to check. Default: the oracle.
	Backend string `yaml:"backend,omitempty"`

	// Method is used by trace_count.
	Method string `yaml:"method,omitempty"`

	// Count is used by trace_count and trace_length.
	Count int `yaml:"count,omitempty"`

	// Methods is used by trace_order.
	Methods []string `yaml:"methods,omitempty"`

	// Position and Output select a value for oracle_output.
	Position int `yaml:"position,omitempty"`
	Output   int `yaml:"output,omitempty"`

	// Expect is the value for oracle_output.
	Expect *Literal `yaml:"expect,omitempty"`

	// Verdict is used by verdict: Passed, Failed or Errored.
	Verdict string `yaml:"verdict,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount   = "trace_count"
	AssertTraceOrder   = "trace_order"
	AssertTraceLength  = "trace_length"
	AssertOracleOutput = "oracle_output"
	AssertVerdict      = "verdict"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the program path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	scenario.Path = path

	// Resolve program path relative to base path BEFORE validation
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) && basePath != "" {
		scenario.Program = filepath.Join(basePath, scenario.Program)
	}
	if _, err := os.Stat(scenario.Program); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: invalid scenario: program file not found: %s", path, scenario.Program)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario without touching the
// filesystem; the program path is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string)
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate scenario name %q in %s and %s", s.Name, prev, p)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Call == "" {
			return fmt.Errorf("steps[%d]: call is required", i)
		}
		for j, lit := range step.Inputs {
			if _, err := lit.Tensor(); err != nil {
				return fmt.Errorf("steps[%d].inputs[%d]: %w", i, j, err)
			}
		}
		for j, lit := range step.Expect {
			if _, err := lit.Tensor(); err != nil {
				return fmt.Errorf("steps[%d].expect[%d]: %w", i, j, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertTraceLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_length", index)
		}
	case AssertOracleOutput:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for oracle_output", index)
		}
		if a.Position < 0 || a.Output < 0 {
			return fmt.Errorf("assertions[%d]: position and output must be non-negative", index)
		}
		if _, err := a.Expect.Tensor(); err != nil {
			return fmt.Errorf("assertions[%d].expect: %w", index, err)
		}
	case AssertVerdict:
		switch a.Verdict {
		case "Passed", "Failed", "Errored":
		default:
			return fmt.Errorf("assertions[%d]: verdict must be Passed, Failed or Errored, got %q", index, a.Verdict)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Tensor converts the literal to a tensor.
func (l Literal) Tensor() (*ir.Tensor, error) {
	dtype, err := ir.ParseDType(l.DType)
	if err != nil {
		return nil, err
	}

	var raw []any
	dims := l.Dims
	switch {
	case l.Value != nil && l.Values != nil:
		return nil, fmt.Errorf("literal has both value and values")
	case l.Value != nil:
		raw = []any{l.Value}
	case l.Values != nil:
		raw = l.Values
		if dims == nil {
			dims = []int{len(raw)}
		}
	default:
		return nil, fmt.Errorf("literal needs value or values")
	}

	switch {
	case dtype.IsFloat():
		vals := make([]float64, len(raw))
		for i, v := range raw {
			if vals[i], err = toFloat(v); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return ir.FromFloats(dtype, dims, vals)
	case dtype.IsInteger():
		vals := make([]int64, len(raw))
		for i, v := range raw {
			if vals[i], err = toInt(v); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return ir.FromInts(dtype, dims, vals)
	}
	vals := make([]bool, len(raw))
	for i, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("element %d: %v is not a bool", i, v)
		}
		vals[i] = b
	}
	return ir.FromBools(dims, vals)
}

// MustTensor is like Tensor but panics on error. Scenarios are validated on
// load, so literals of a loaded scenario always convert.
func (l Literal) MustTensor() *ir.Tensor {
	t, err := l.Tensor()
	if err != nil {
		panic(err)
	}
	return t
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return ir.ParseFloat(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("%v (%T) is not a number", v, v)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
}
