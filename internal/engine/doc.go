// Package engine runs scenarios on several backends and judges them against
// a reference backend, the oracle.
//
// ARCHITECTURE:
//
// Registry: owns the backends of a session and caches one compiled Instance
// per (program fingerprint, backend). Concurrent requests for the same pair
// share one compile; failures are cached for the session.
//
// Instance and Module: an Instance checks every invocation against the
// method signature, hands the backend private copies of the inputs, enforces
// the per-invocation timeout and converts panics into errors. A Module pairs
// an Instance with the trace recorder of one run and latches the first error.
//
// Runner: one goroutine per backend, bounded by an errgroup sized to the
// backend count. Each backend moves Pending -> Running -> Completed|Errored
// independently; the runner returns once all are terminal.
//
// Session: after the runner returns, every completed candidate trace is
// compared with the oracle trace. If the oracle errored the scenario fails
// with ORACLE_UNAVAILABLE and nothing is compared.
//
// Within one run, invocations are strictly sequential, and the run's trace
// is numbered by its own Clock, so traces of different backends line up
// position by position.
package engine
