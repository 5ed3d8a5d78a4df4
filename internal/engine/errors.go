package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// Error is a structured failure attributed to one backend, and to one method
// when it happened during an invocation.
//
// Every error the engine reports for a scenario is an *Error, so callers can
// branch on Code with errors.As instead of matching messages.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Backend names the backend that failed.
	Backend string `json:"backend,omitempty"`

	// Method names the invoked method, if any.
	Method string `json:"method,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeSignature indicates inputs that violate the method signature.
	ErrCodeSignature ErrorCode = "SIGNATURE_ERROR"

	// ErrCodeCompilation indicates a backend rejected the program.
	ErrCodeCompilation ErrorCode = "COMPILATION_ERROR"

	// ErrCodeRuntime indicates an invocation failed inside the backend.
	ErrCodeRuntime ErrorCode = "RUNTIME_ERROR"

	// ErrCodeTimeout indicates an invocation ran past the per-invocation timeout.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeStepsExceeded indicates an invocation ran past the step budget.
	ErrCodeStepsExceeded ErrorCode = "STEPS_EXCEEDED"

	// ErrCodeOracleUnavailable indicates the oracle backend errored, so no
	// reference trace exists for the scenario.
	ErrCodeOracleUnavailable ErrorCode = "ORACLE_UNAVAILABLE"

	// ErrCodeCancelled indicates the caller cancelled the run.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Backend != "" && e.Method != "":
		return fmt.Sprintf("%s: %s (backend=%s, method=%s)", e.Code, e.Message, e.Backend, e.Method)
	case e.Backend != "":
		return fmt.Sprintf("%s: %s (backend=%s)", e.Code, e.Message, e.Backend)
	case e.Method != "":
		return fmt.Sprintf("%s: %s (method=%s)", e.Code, e.Message, e.Method)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain has code. An oracle
// failure caused by a compile error has both codes.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsSignatureError returns true if err is, or wraps, a signature error.
func IsSignatureError(err error) bool {
	return HasCode(err, ErrCodeSignature)
}

// IsCompilationError returns true if err is, or wraps, a compilation error.
func IsCompilationError(err error) bool {
	return HasCode(err, ErrCodeCompilation)
}

// IsTimeout returns true if err is, or wraps, a per-invocation timeout.
func IsTimeout(err error) bool {
	return HasCode(err, ErrCodeTimeout)
}

// IsOracleUnavailable returns true if err is, or wraps, an oracle failure.
func IsOracleUnavailable(err error) bool {
	return HasCode(err, ErrCodeOracleUnavailable)
}

// newSignatureError wraps an *ir.SignatureError.
func newSignatureError(method string, err error) *Error {
	return &Error{Code: ErrCodeSignature, Message: err.Error(), Method: method, Err: err}
}

// newCompilationError wraps a backend compile failure.
func newCompilationError(backendName string, err error) *Error {
	return &Error{
		Code:    ErrCodeCompilation,
		Message: fmt.Sprintf("compile failed: %v", err),
		Backend: backendName,
		Err:     err,
	}
}

// newOracleUnavailable wraps the oracle's own failure.
func newOracleUnavailable(oracle string, cause error) *Error {
	return &Error{
		Code:    ErrCodeOracleUnavailable,
		Message: fmt.Sprintf("oracle backend failed: %v", cause),
		Backend: oracle,
		Err:     cause,
	}
}

// classifyInvokeError maps an invocation failure to the engine taxonomy.
//
// parent is the caller's context and timedOut reports whether the
// per-invocation deadline fired. A caller cancellation wins over a timeout
// because the caller asked for it.
func classifyInvokeError(parent context.Context, backendName, method string, timedOut bool, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	code := ErrCodeRuntime
	switch {
	case parent.Err() != nil:
		code = ErrCodeCancelled
	case timedOut:
		code = ErrCodeTimeout
	case backend.IsStepsExceededError(err):
		code = ErrCodeStepsExceeded
	case errors.Is(err, context.Canceled):
		code = ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	}

	var sig *ir.SignatureError
	if errors.As(err, &sig) {
		code = ErrCodeSignature
	}

	return &Error{Code: code, Message: err.Error(), Backend: backendName, Method: method, Err: err}
}
