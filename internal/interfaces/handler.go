package interfaces

import (
	"context"

	"github.com/ternarybob/meshbatch/internal/models"
)

// ProgressFunc reports fractional completion (0.0-1.0) of a running task
// together with a short human-readable stage message.
type ProgressFunc func(progress float64, message string)

// Handler performs the actual file processing for one task kind. Handlers
// are synchronous and may block freely; cancellation is cooperative via
// the context, which handlers are expected to check between units of work.
// A handler that does not cooperate simply runs to completion, after which
// its result is discarded and the job finalized as Cancelled.
type Handler interface {
	// Kind returns the task kind this handler processes.
	Kind() models.TaskKind

	// Execute processes one task. On success it returns a HandlerResult
	// listing the produced output files; on failure it returns a
	// *models.JobError (or any error, classified as a handler failure).
	Execute(ctx context.Context, task *models.TaskDescriptor, report ProgressFunc) (*models.HandlerResult, error)
}
