package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/difftrace/internal/ir"
)

type nopBackend struct{ name string }

func (b nopBackend) Name() string        { return b.name }
func (b nopBackend) Description() string { return "nop" }
func (b nopBackend) Compile(context.Context, *ir.Program) (Executable, error) {
	return nil, errors.New("nop")
}

func TestRegisterAndNew(t *testing.T) {
	Register("test-nop", func(Config) (Backend, error) { return nopBackend{name: "test-nop"}, nil })

	assert.True(t, IsRegistered("test-nop"))
	assert.Contains(t, Names(), "test-nop")

	b, err := New("test-nop", Config{})
	require.NoError(t, err)
	assert.Equal(t, "test-nop", b.Name())

	assert.Panics(t, func() {
		Register("test-nop", func(Config) (Backend, error) { return nil, nil })
	}, "duplicate registration panics")
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New("does-not-exist", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "does-not-exist"`)
}

func TestNewConstructorError(t *testing.T) {
	Register("test-broken", func(Config) (Backend, error) { return nil, errors.New("missing driver") })

	_, err := New("test-broken", Config{})
	assert.EqualError(t, err, "backend test-broken: missing driver")
}

func TestStepBudget(t *testing.T) {
	b := NewStepBudget(context.Background(), "collatz", 3)
	for range 3 {
		require.NoError(t, b.Step())
	}
	err := b.Step()
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 4, se.Steps)
	assert.Equal(t, 3, se.Limit)
	assert.Equal(t, "collatz", se.Method)
}

func TestStepBudgetUnlimitedPollsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewStepBudget(ctx, "spin", 0)
	for range pollInterval - 1 {
		require.NoError(t, b.Step())
	}
	cancel()

	err := b.Step()
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsStepsExceededError(err))
}
