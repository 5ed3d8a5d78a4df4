package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/difftrace/internal/compare"
)

// Configuration defaults.
const (
	DefaultOracle   = "interp"
	DefaultTimeout  = 10 * time.Second
	DefaultMaxSteps = 10_000_000
)

// DefaultBackends are the reference backends a session runs when the
// configuration names none.
var DefaultBackends = []string{"interp", "vm"}

// Config selects the backends of a session, the oracle among them, and the
// comparison policy.
//
// Example YAML:
//
//	backends: [interp, vm, interp-f16]
//	oracle: interp
//	timeout_per_invocation: 5s
//	max_steps: 1000000
//	tolerances:
//	  float32: {atol: 1e-5, rtol: 1e-5}
type Config struct {
	// Backends lists backend names in report order.
	Backends []string `yaml:"backends" json:"backends"`

	// Oracle names the backend whose trace is the reference. It must be one of Backends.
	Oracle string `yaml:"oracle" json:"oracle"`

	// Tolerances override the per-dtype defaults; dtypes not named keep theirs.
	Tolerances compare.ToleranceSpec `yaml:"tolerances" json:"tolerances"`

	// TimeoutPerInvocation bounds one invocation. Zero disables the timeout.
	TimeoutPerInvocation time.Duration `yaml:"timeout_per_invocation" json:"timeout_per_invocation"`

	// MaxSteps bounds loop iterations per invocation. Zero disables the limit.
	MaxSteps int `yaml:"max_steps" json:"max_steps"`

	// ReportAll records every divergence instead of stopping at the first.
	ReportAll bool `yaml:"report_all" json:"report_all"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Backends:             slices.Clone(DefaultBackends),
		Oracle:               DefaultOracle,
		Tolerances:           compare.DefaultToleranceSpec(),
		TimeoutPerInvocation: DefaultTimeout,
		MaxSteps:             DefaultMaxSteps,
	}
}

// LoadConfig reads a YAML configuration file. Fields the file omits keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML configuration. Unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	var raw struct {
		Backends             []string              `yaml:"backends"`
		Oracle               string                `yaml:"oracle"`
		Tolerances           compare.ToleranceSpec `yaml:"tolerances"`
		TimeoutPerInvocation *time.Duration        `yaml:"timeout_per_invocation"`
		MaxSteps             *int                  `yaml:"max_steps"`
		ReportAll            bool                  `yaml:"report_all"`
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse YAML: %w", err)
	}

	cfg := DefaultConfig()
	if len(raw.Backends) > 0 {
		cfg.Backends = raw.Backends
	}
	if raw.Oracle != "" {
		cfg.Oracle = raw.Oracle
	}
	cfg.Tolerances = cfg.Tolerances.Merge(raw.Tolerances)
	if raw.TimeoutPerInvocation != nil {
		cfg.TimeoutPerInvocation = *raw.TimeoutPerInvocation
	}
	if raw.MaxSteps != nil {
		cfg.MaxSteps = *raw.MaxSteps
	}
	cfg.ReportAll = raw.ReportAll
	return cfg, nil
}

// Validate checks the configuration is self-consistent. Whether each
// backend can be constructed is checked by NewSession.
func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, name := range c.Backends {
		if name == "" {
			return fmt.Errorf("config: empty backend name")
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate backend %q", name)
		}
		seen[name] = true
	}
	if c.Oracle == "" {
		return fmt.Errorf("config: oracle is required")
	}
	if !seen[c.Oracle] {
		return fmt.Errorf("config: oracle %q is not one of the configured backends %v", c.Oracle, c.Backends)
	}
	if c.TimeoutPerInvocation < 0 {
		return fmt.Errorf("config: timeout_per_invocation must not be negative")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("config: max_steps must not be negative")
	}
	if err := c.Tolerances.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Candidates returns the configured backends other than the oracle, in order.
func (c Config) Candidates() []string {
	out := make([]string, 0, len(c.Backends))
	for _, name := range c.Backends {
		if name != c.Oracle {
			out = append(out, name)
		}
	}
	return out
}
