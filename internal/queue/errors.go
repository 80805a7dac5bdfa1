package queue

import "errors"

var (
	// ErrDuplicateTask indicates an enqueue with an id already present.
	ErrDuplicateTask = errors.New("task id already enqueued")

	// ErrJobNotFound indicates an operation on an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState indicates an operation invoked on a job whose
	// state does not permit it, such as reordering a running job.
	ErrInvalidState = errors.New("operation not permitted in current job state")

	// ErrQueueRunning indicates a reset attempted while the queue is
	// still running.
	ErrQueueRunning = errors.New("queue must be stopped first")
)
