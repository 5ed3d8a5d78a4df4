package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/difftrace/internal/trace"
)

// RunWithGolden executes a scenario and compares the oracle trace against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the result's oracle trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
//
// The golden file holds the trace as canonical JSON, so any change to a
// recorded value, down to the last bit, fails the comparison.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	if result.Trace == nil {
		return fmt.Errorf("golden %s: no oracle trace (verdict %s)", name, result.Verdict)
	}
	traceJSON, err := trace.MarshalCanonical(result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)

	return nil
}
