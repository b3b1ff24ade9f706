package supervisor

import (
	"errors"
	"fmt"
)

// Step failure kinds. Use errors.Is against a returned *StepError.
var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrSafetyBlocked       = errors.New("safety blocked")
	ErrExecutionFailure    = errors.New("execution failure")
	ErrVerificationFailure = errors.New("verification failure")
	ErrProvider            = errors.New("provider error")
	ErrCancelled           = errors.New("cancelled")
)

// StepError explains why a task stopped at a particular step.
type StepError struct {
	Kind   error
	Reason string
	// Hint is a safer alternative the model or user can try next.
	Hint string
	Err  error
}

func (e *StepError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepError(kind error, reason string) *StepError {
	return &StepError{Kind: kind, Reason: reason}
}

func wrapStep(kind error, err error, format string, args ...any) *StepError {
	return &StepError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}
