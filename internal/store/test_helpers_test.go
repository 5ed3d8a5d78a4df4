package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/roach88/difftrace/internal/backend/interp"
	_ "github.com/roach88/difftrace/internal/backend/vm"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/testutil"
)

// setupTestStore creates a fresh file-backed store in a temp directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "difftrace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// runReport runs a scenario calling method once per input on the given
// backends, with interp as the oracle.
func runReport(t *testing.T, id, method string, backends []string, values ...float32) *engine.Report {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Backends = backends
	cfg.ReportAll = true
	s, err := engine.NewSession(cfg,
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(id)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	report, err := s.RunScenario(context.Background(), engine.Scenario{
		Name:    method,
		Program: testutil.ControlFlowProgram(),
		Func: func(ctx context.Context, m *engine.Module) error {
			for _, v := range values {
				if _, err := m.Call(ctx, method, testutil.F32(v)); err != nil {
					return err
				}
			}
			return nil
		},
	})
	require.NoError(t, err)
	return report
}
