package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrFatalConfig is matched by every FatalConfigError.
	ErrFatalConfig = errors.New("fatal config")

	// ErrStoreUnavailable is matched by every StoreUnavailableError.
	ErrStoreUnavailable = errors.New("feature store unavailable")

	// ErrNotRunning is returned by control operations that need a started controller.
	ErrNotRunning = errors.New("orchestrator is not running")

	// ErrQueueClosed is returned by the queue once it has been closed.
	ErrQueueClosed = errors.New("execution queue closed")

	// ErrRecordNotFound is returned by record stores for unknown request IDs.
	ErrRecordNotFound = errors.New("execution record not found")
)

// ValidationError reports bad user input. It is returned before any state
// is touched.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// FatalConfigError reports a config change that would leave the controller
// unable to run, such as a zero concurrency budget while enabled.
type FatalConfigError struct {
	Reason string
}

func (e *FatalConfigError) Error() string { return "fatal config: " + e.Reason }

func (e *FatalConfigError) Is(target error) bool { return target == ErrFatalConfig }

// TransientExecutionError is an engine I/O failure. The Runner retries it
// up to the configured ceiling.
type TransientExecutionError struct {
	Err error
}

func (e *TransientExecutionError) Error() string { return "transient execution error: " + e.Err.Error() }

func (e *TransientExecutionError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientExecutionError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientExecutionError{Err: err}
}

// AssertionFailure means the scenarios ran and genuinely failed. Never retried.
type AssertionFailure struct {
	Summary string
}

func (e *AssertionFailure) Error() string { return "assertion failure: " + e.Summary }

// StoreUnavailableError wraps a Feature/Project Store failure seen by a loop tick.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("feature store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// IsTransient reports whether err carries a TransientExecutionError.
func IsTransient(err error) bool {
	var t *TransientExecutionError
	return errors.As(err, &t)
}

// IsAssertionFailure reports whether err carries an AssertionFailure.
func IsAssertionFailure(err error) bool {
	var a *AssertionFailure
	return errors.As(err, &a)
}
