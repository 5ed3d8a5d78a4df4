// Package store provides SQLite-backed persistence for session reports.
//
// A report is written as one row in runs plus, per backend, a row in
// backend_runs, its recorded invocations in trace_entries and, for diverging
// candidates, its divergences in mismatches. Tensors and mismatches are stored
// as RFC 8785 canonical JSON, so a trace read back is bit-identical to the
// one that was written.
//
// # Ordering
//
//   - Trace entries are read ORDER BY seq ASC
//   - Backends are read in configured order (position column)
//   - Runs are listed newest first, ties broken by id COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity, deletes cascade
package store
