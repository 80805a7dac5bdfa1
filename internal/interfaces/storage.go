package interfaces

import (
	"context"

	"github.com/ternarybob/meshbatch/internal/models"
)

// SnapshotStore persists versioned queue snapshots atomically and restores
// them at startup. Implementations never own live objects; they only
// serialize and deserialize deep copies.
type SnapshotStore interface {
	// Save writes the snapshot atomically, rotating backups.
	Save(snapshot *models.Snapshot) error

	// Load reads the canonical state file, falling back through backups.
	// Returns (nil, nil) when no usable state exists; load failures are
	// never fatal to startup.
	Load() (*models.Snapshot, error)
}

// JobLogStorage persists the full per-job diagnostic log history.
type JobLogStorage interface {
	// Append stores one log entry for a job.
	Append(ctx context.Context, jobID string, entry models.JobLogEntry) error

	// GetLogs returns entries for a job ordered by timestamp; limit 0
	// returns all.
	GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error)

	// DeleteLogs removes all entries for a job.
	DeleteLogs(ctx context.Context, jobID string) error
}
