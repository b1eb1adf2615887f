package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrContentNotFound is returned when a generated content record does not exist
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidTransition is returned when a status change would move a job backwards
	// or from one terminal status to another
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrForbidden is returned when a job belongs to a different owner
	ErrForbidden = errors.New("job belongs to a different owner")

	// ErrInvalidRequest is returned for malformed submissions
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidKind is returned when a content kind is outside the supported set
	ErrInvalidKind = errors.New("unsupported content kind")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
