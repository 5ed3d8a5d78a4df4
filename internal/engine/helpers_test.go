package engine

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/backend/interp"
	"github.com/roach88/difftrace/internal/backend/vm"
	"github.com/roach88/difftrace/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(backends ...string) Config {
	cfg := DefaultConfig()
	cfg.Backends = backends
	return cfg
}

func newTestSession(t *testing.T, cfg Config, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{
		WithLogger(discardLogger()),
		WithIDGenerator(testutil.NewFixedIDGenerator("")),
	}, opts...)
	s, err := NewSession(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func interpBackend(t *testing.T) backend.Backend {
	t.Helper()
	b, err := interp.New(backend.Config{})
	require.NoError(t, err)
	return b
}

func vmBackend(t *testing.T, maxSteps int) backend.Backend {
	t.Helper()
	b, err := vm.New(backend.Config{MaxSteps: maxSteps})
	require.NoError(t, err)
	return b
}
