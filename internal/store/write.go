package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/ir"
	"github.com/roach88/difftrace/internal/trace"
)

// WriteReport stores a report, its backend runs, their traces and every
// recorded mismatch in a single transaction.
//
// Writing a report whose id is already stored replaces the earlier run.
func (s *Store) WriteReport(ctx context.Context, r *engine.Report) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("write report: report id is required")
	}
	errorsJSON, err := marshalErrors(r.Errors)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write report: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Child rows go with it via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	var startedAt int64
	if !r.StartedAt.IsZero() {
		startedAt = r.StartedAt.UnixNano()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, scenario, program, fingerprint, oracle, verdict, errors, started_at, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Scenario,
		r.Program,
		r.Fingerprint,
		r.Oracle,
		string(r.Verdict),
		errorsJSON,
		startedAt,
		r.Elapsed.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	for pos, run := range r.Runs {
		if err := writeBackendRun(ctx, tx, r.ID, pos, run, r.Comparison(run.Backend)); err != nil {
			return fmt.Errorf("write report %s: backend %s: %w", r.ID, run.Backend, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write report: commit: %w", err)
	}
	return nil
}

func writeBackendRun(ctx context.Context, tx *sql.Tx, runID string, pos int, run *engine.BackendRun, cmp *compare.Result) error {
	tr := run.Trace
	if tr == nil {
		tr = &trace.Trace{Backend: run.Backend, Entries: []trace.Entry{}}
	}
	digest, err := trace.EntriesDigest(tr)
	if err != nil {
		return err
	}

	var reference, maxErr sql.NullString
	var pass sql.NullBool
	var compared sql.NullInt64
	if cmp != nil {
		reference = sql.NullString{String: cmp.Reference, Valid: true}
		pass = sql.NullBool{Bool: cmp.Pass, Valid: true}
		compared = sql.NullInt64{Int64: int64(cmp.Compared), Valid: true}
		maxErr = sql.NullString{String: ir.FormatFloat(cmp.MaxAbsError), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backend_runs
		(run_id, backend, position, state, error_code, error_message, elapsed_ns, trace_digest,
		 reference, pass, compared, max_abs_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		run.Backend,
		pos,
		string(run.State),
		string(run.ErrorCode),
		run.ErrorMessage,
		run.Elapsed.Nanoseconds(),
		digest,
		reference,
		pass,
		compared,
		maxErr,
	)
	if err != nil {
		return err
	}

	for _, e := range tr.Entries {
		inputs, err := marshalTensors(e.Inputs)
		if err != nil {
			return err
		}
		outputs, err := marshalTensors(e.Outputs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trace_entries (run_id, backend, seq, method, inputs, outputs)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, run.Backend, e.Seq, e.Method, inputs, outputs)
		if err != nil {
			return fmt.Errorf("entry %d: %w", e.Seq, err)
		}
	}

	if cmp == nil {
		return nil
	}
	for i, m := range cmp.Mismatches {
		body, err := marshalMismatch(m)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mismatches (run_id, candidate, idx, kind, position, body)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, run.Backend, i, string(m.Kind), m.Position, body)
		if err != nil {
			return fmt.Errorf("mismatch %d: %w", i, err)
		}
	}
	return nil
}
