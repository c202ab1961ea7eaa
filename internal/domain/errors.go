package domain

import "errors"

// Common domain errors.
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownParameter is returned when a parameter name is not part of the current schema.
	ErrUnknownParameter = errors.New("unknown strategy parameter")

	// ErrIncompleteSelection is returned when a submission is attempted before every selection is made.
	ErrIncompleteSelection = errors.New("selection is incomplete")

	// ErrSubmissionInFlight is returned when a submission or selection change is attempted
	// while a previous submission is still running.
	ErrSubmissionInFlight = errors.New("a submission is already in flight")

	// ErrNotReady is returned when dependent configuration is still loading or failed to load.
	ErrNotReady = errors.New("configuration is not ready")

	// ErrSessionDisposed is returned for any operation on a disposed session.
	ErrSessionDisposed = errors.New("session is disposed")

	// ErrResultAlreadySet is returned when a job tries to write the result store twice.
	ErrResultAlreadySet = errors.New("result already set for this job")

	// ErrInvalidStrategyFile is returned when an upload is not a .py file.
	ErrInvalidStrategyFile = errors.New("strategy file must have a .py extension")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) NotFoundError {
	return NotFoundError{Resource: resource, ID: id}
}

// FieldError wraps ErrInvalidInput with the offending field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e FieldError) Unwrap() error {
	return ErrInvalidInput
}

// NewFieldError creates a new FieldError.
func NewFieldError(field, message string) FieldError {
	return FieldError{Field: field, Message: message}
}
