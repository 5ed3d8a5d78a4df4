// Package harness runs differential test scenarios written as YAML files.
//
// A scenario names a CUE program, lists the invocations to make, and states
// what to check afterwards. Every step runs on every configured backend; the
// session then compares each candidate trace with the oracle trace.
//
// # Scenario Format
//
//	name: collatz
//	description: "Collatz step counts agree across backends"
//	program: ../programs/control_flow.cue
//	steps:
//	  - call: collatz
//	    inputs: [{dtype: float32, value: 9}]
//	    expect: [{dtype: float32, value: 19}]
//	  - call: collatz
//	    inputs: [{dtype: float32, value: 178}]
//	assertions:
//	  - type: trace_count
//	    method: collatz
//	    count: 2
//	  - type: oracle_output
//	    position: 1
//	    expect: {dtype: float32, value: 31}
//
// Tensor literals take a dtype plus either a scalar value or a values list
// (dims default to the list length). Float values may be written as "NaN",
// "+Inf" or "-Inf".
//
// # Assertion Types
//
//   - trace_count: Verifies a method was invoked exactly N times
//   - trace_order: Verifies methods were invoked in the specified order
//   - trace_length: Verifies the total number of invocations
//   - oracle_output: Verifies one output value under the tolerance policy
//   - verdict: Expects a verdict other than Passed (e.g. a known divergence)
//
// Trace assertions check the oracle trace unless they name a backend.
//
// # Deterministic Testing
//
// The package-level Run uses a fixed report id, a per-backend logical
// clock and a fresh in-memory store, so the oracle trace is identical across
// runs and can be compared byte for byte against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/collatz.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
