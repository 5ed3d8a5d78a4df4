package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/difftrace/internal/backend"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Code: ErrCodeRuntime, Message: "boom", Backend: "vm", Method: "collatz"}, "RUNTIME_ERROR: boom (backend=vm, method=collatz)"},
		{&Error{Code: ErrCodeCompilation, Message: "bad", Backend: "vm"}, "COMPILATION_ERROR: bad (backend=vm)"},
		{&Error{Code: ErrCodeSignature, Message: "arity", Method: "collatz"}, "SIGNATURE_ERROR: arity (method=collatz)"},
		{&Error{Code: ErrCodeCancelled, Message: "stop"}, "CANCELLED: stop"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	cause := errors.New("bad opcode")
	err := fmt.Errorf("scenario: %w", newCompilationError("vm", cause))

	assert.Equal(t, ErrCodeCompilation, CodeOf(err))
	assert.True(t, IsCompilationError(err))
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}

func TestClassifyInvokeError(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	steps := &backend.StepsExceededError{Method: "spin", Steps: 11, Limit: 10}

	tests := []struct {
		name     string
		parent   context.Context
		timedOut bool
		err      error
		want     ErrorCode
	}{
		{"runtime", live, false, errors.New("boom"), ErrCodeRuntime},
		{"steps", live, false, fmt.Errorf("vm: %w", steps), ErrCodeStepsExceeded},
		{"timeout", live, true, context.DeadlineExceeded, ErrCodeTimeout},
		{"cancel wins over timeout", cancelled, true, context.DeadlineExceeded, ErrCodeCancelled},
		{"already classified", live, false, &Error{Code: ErrCodeSignature}, ErrCodeSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyInvokeError(tt.parent, "vm", "m", tt.timedOut, tt.err)
			assert.Equal(t, tt.want, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestHasCode_WalksCauses(t *testing.T) {
	compileErr := newCompilationError("interp", errors.New("unsupported while"))
	err := newOracleUnavailable("interp", compileErr)

	assert.Equal(t, ErrCodeOracleUnavailable, CodeOf(err))
	assert.True(t, IsOracleUnavailable(err))
	assert.True(t, IsCompilationError(err))
	assert.False(t, IsTimeout(err))
	assert.False(t, HasCode(nil, ErrCodeRuntime))
}
