package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// RunSummary is one line of the run listing.
type RunSummary struct {
	ID         string         `json:"id"`
	Scenario   string         `json:"scenario"`
	Program    string         `json:"program"`
	Oracle     string         `json:"oracle"`
	Verdict    engine.Verdict `json:"verdict"`
	Backends   int            `json:"backends"`
	Mismatches int            `json:"mismatches"`
	StartedAt  time.Time      `json:"started_at"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

// ListRuns returns stored runs, newest first. A limit <= 0 returns all of them.
//
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.scenario, r.program, r.oracle, r.verdict, r.started_at, r.elapsed_ns,
		       (SELECT COUNT(*) FROM backend_runs b WHERE b.run_id = r.id),
		       (SELECT COUNT(*) FROM mismatches m WHERE m.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var sum RunSummary
		var verdict string
		var started, elapsed int64
		if err := rows.Scan(&sum.ID, &sum.Scenario, &sum.Program, &sum.Oracle, &verdict,
			&started, &elapsed, &sum.Backends, &sum.Mismatches); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.Verdict = engine.Verdict(verdict)
		sum.StartedAt = fromUnixNano(started)
		sum.Elapsed = time.Duration(elapsed)
		runs = append(runs, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun reconstructs a stored report: its runs with their traces, the
// comparisons with every stored mismatch, and the report errors.
// Returns an error wrapping sql.ErrNoRows if the run does not exist.
//
// Backend errors come back as *engine.Error values carrying the stored code
// and message; the original error chain is not persisted.
func (s *Store) ReadRun(ctx context.Context, id string) (*engine.Report, error) {
	var r engine.Report
	var verdict, errorsJSON string
	var started, elapsed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, program, fingerprint, oracle, verdict, errors, started_at, elapsed_ns
		FROM runs
		WHERE id = ?
	`, id).Scan(&r.ID, &r.Scenario, &r.Program, &r.Fingerprint, &r.Oracle, &verdict, &errorsJSON, &started, &elapsed)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	r.Verdict = engine.Verdict(verdict)
	r.StartedAt = fromUnixNano(started)
	r.Elapsed = time.Duration(elapsed)
	if r.Errors, err = unmarshalErrors(errorsJSON); err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}

	// Rows are drained before the per-backend queries: the store holds a
	// single connection.
	runs, comparisons, err := s.readBackendRuns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	for _, run := range runs {
		if run.Trace, err = s.readEntries(ctx, id, r.Scenario, run.Backend); err != nil {
			return nil, fmt.Errorf("read run %s: %w", id, err)
		}
	}
	for _, c := range comparisons {
		if err := s.readMismatches(ctx, id, c); err != nil {
			return nil, fmt.Errorf("read run %s: %w", id, err)
		}
	}
	r.Runs = runs
	r.Comparisons = comparisons
	return &r, nil
}

// ReadTrace returns the trace one backend recorded in a stored run.
// Returns an error wrapping sql.ErrNoRows if the run or backend does not exist.
func (s *Store) ReadTrace(ctx context.Context, runID, backendName string) (*trace.Trace, error) {
	var scenario string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.scenario
		FROM backend_runs b
		JOIN runs r ON r.id = b.run_id
		WHERE b.run_id = ? AND b.backend = ?
	`, runID, backendName).Scan(&scenario)
	if err != nil {
		return nil, fmt.Errorf("read trace %s/%s: %w", runID, backendName, err)
	}
	tr, err := s.readEntries(ctx, runID, scenario, backendName)
	if err != nil {
		return nil, fmt.Errorf("read trace %s/%s: %w", runID, backendName, err)
	}
	return tr, nil
}

func (s *Store) readBackendRuns(ctx context.Context, runID string) ([]*engine.BackendRun, []*compare.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend, state, error_code, error_message, elapsed_ns, reference, pass, compared, max_abs_error
		FROM backend_runs
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("query backend runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.BackendRun{}
	comparisons := []*compare.Result{}
	for rows.Next() {
		var run engine.BackendRun
		var state, code string
		var elapsed int64
		var reference, maxErr sql.NullString
		var pass sql.NullBool
		var compared sql.NullInt64
		if err := rows.Scan(&run.Backend, &state, &code, &run.ErrorMessage, &elapsed,
			&reference, &pass, &compared, &maxErr); err != nil {
			return nil, nil, fmt.Errorf("scan backend run: %w", err)
		}
		run.State = engine.BackendState(state)
		run.ErrorCode = engine.ErrorCode(code)
		run.Elapsed = time.Duration(elapsed)
		if run.State == engine.StateErrored {
			run.Err = &engine.Error{Code: run.ErrorCode, Message: run.ErrorMessage, Backend: run.Backend}
		}
		runs = append(runs, &run)

		if !reference.Valid {
			continue
		}
		c := &compare.Result{
			Reference: reference.String,
			Candidate: run.Backend,
			Pass:      pass.Bool,
			Compared:  int(compared.Int64),
		}
		if c.MaxAbsError, err = ir.ParseFloat(maxErr.String); err != nil {
			return nil, nil, fmt.Errorf("backend %s: max_abs_error: %w", run.Backend, err)
		}
		comparisons = append(comparisons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate backend runs: %w", err)
	}
	return runs, comparisons, nil
}

func (s *Store) readEntries(ctx context.Context, runID, scenario, backendName string) (*trace.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, method, inputs, outputs
		FROM trace_entries
		WHERE run_id = ? AND backend = ?
		ORDER BY seq ASC
	`, runID, backendName)
	if err != nil {
		return nil, fmt.Errorf("query trace entries: %w", err)
	}
	defer rows.Close()

	tr := &trace.Trace{Scenario: scenario, Backend: backendName, Entries: []trace.Entry{}}
	for rows.Next() {
		var e trace.Entry
		var inputs, outputs string
		if err := rows.Scan(&e.Seq, &e.Method, &inputs, &outputs); err != nil {
			return nil, fmt.Errorf("scan trace entry: %w", err)
		}
		if e.Inputs, err = unmarshalTensors(inputs); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		if e.Outputs, err = unmarshalTensors(outputs); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		tr.Entries = append(tr.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace entries: %w", err)
	}
	return tr, nil
}

func (s *Store) readMismatches(ctx context.Context, runID string, c *compare.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM mismatches
		WHERE run_id = ? AND candidate = ?
		ORDER BY idx ASC
	`, runID, c.Candidate)
	if err != nil {
		return fmt.Errorf("query mismatches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scan mismatch: %w", err)
		}
		m, err := unmarshalMismatch(body)
		if err != nil {
			return err
		}
		c.Mismatches = append(c.Mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate mismatches: %w", err)
	}
	if len(c.Mismatches) > 0 {
		c.First = &c.Mismatches[0]
	}
	return nil
}

// IsNotFound reports whether err means the requested run or trace is not stored.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
