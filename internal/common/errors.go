package common

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrInternal   = errors.New("internal error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrBadRequest = errors.New("bad request")

	// Storage errors: the artifact could not be durably written or read back
	ErrStorage = errors.New("storage error")

	// Extraction errors
	ErrUnreadableDocument = errors.New("document is unreadable")
	ErrEmptyDocument      = errors.New("document contains no extractable text")

	// Resource-specific errors
	ErrJobNotFound  = fmt.Errorf("job %w", ErrNotFound)
	ErrDuplicateJob = fmt.Errorf("job %w", ErrConflict)

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StepError marks a failure inside one pipeline step. The step name is kept
// so the ledger records which stage aborted the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// WrapStorage wraps an error as a storage error with context
func WrapStorage(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrStorage, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStorage checks if error is a storage error
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsUnreadableDocument checks if error means the document itself is at fault
func IsUnreadableDocument(err error) bool {
	return errors.Is(err, ErrUnreadableDocument)
}
