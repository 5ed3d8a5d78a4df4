package backend

import (
	"context"
	"errors"
	"fmt"
)

// pollInterval is how many steps pass between context checks.
const pollInterval = 1024

// StepBudget bounds the number of loop iterations of one invocation and
// polls the invocation context while it counts.
//
// Backends call Step once per loop-condition evaluation, so every backend
// spends the same budget for the same program and inputs.
type StepBudget struct {
	ctx      context.Context
	method   string
	maxSteps int
	current  int
}

// NewStepBudget returns a budget for one invocation of method.
// maxSteps <= 0 disables the limit; the context is still polled.
func NewStepBudget(ctx context.Context, method string, maxSteps int) *StepBudget {
	return &StepBudget{ctx: ctx, method: method, maxSteps: maxSteps}
}

// Step counts one step. It returns *StepsExceededError when the limit is
// passed and the context error once the context is done.
func (b *StepBudget) Step() error {
	b.current++
	if b.maxSteps > 0 && b.current > b.maxSteps {
		return &StepsExceededError{Method: b.method, Steps: b.current, Limit: b.maxSteps}
	}
	if b.current%pollInterval == 0 {
		if err := b.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the number of steps taken.
func (b *StepBudget) Current() int {
	return b.current
}

// StepsExceededError is returned when an invocation exceeds its step limit.
type StepsExceededError struct {
	Method string // The method that exceeded the limit
	Steps  int    // Number of steps taken
	Limit  int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("method %s exceeded max steps: %d steps > %d limit",
		e.Method, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
