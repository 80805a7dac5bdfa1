package models

import "fmt"

// ErrorKind classifies a job failure for retry and state-transition decisions.
type ErrorKind string

const (
	// ErrorValidation means the source file is unreadable or corrupt.
	// Terminal: the job is Skipped and never retried.
	ErrorValidation ErrorKind = "validation"
	// ErrorTransient means an I/O hiccup or resource contention.
	// Retriable up to the configured bound.
	ErrorTransient ErrorKind = "transient"
	// ErrorHandler means an unexpected failure inside a handler.
	// Terminal Failed, not retried.
	ErrorHandler ErrorKind = "handler"
	// ErrorPersistence means a snapshot save/load failure. Logged, never fatal.
	ErrorPersistence ErrorKind = "persistence"
	// ErrorConcurrency means an internal invariant breach, e.g. double
	// completion of a job. Logged as a bug signal; the operation is a no-op.
	ErrorConcurrency ErrorKind = "concurrency"
)

// JobError is a classified job failure. It is the only error shape that
// crosses the executor boundary into Job state.
type JobError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retriable bool      `json:"retriable"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewValidationError creates a terminal validation failure (job is Skipped).
func NewValidationError(format string, args ...interface{}) *JobError {
	return &JobError{Kind: ErrorValidation, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError creates a retriable execution failure.
func NewTransientError(format string, args ...interface{}) *JobError {
	return &JobError{Kind: ErrorTransient, Message: fmt.Sprintf(format, args...), Retriable: true}
}

// NewHandlerError creates a terminal, non-retriable handler failure.
func NewHandlerError(format string, args ...interface{}) *JobError {
	return &JobError{Kind: ErrorHandler, Message: fmt.Sprintf(format, args...)}
}

// ClassifyError converts an arbitrary handler error into a JobError.
// Already-classified errors pass through; anything else is treated as an
// unexpected handler failure.
func ClassifyError(err error) *JobError {
	if err == nil {
		return nil
	}
	if jobErr, ok := err.(*JobError); ok {
		return jobErr
	}
	return NewHandlerError("%v", err)
}
