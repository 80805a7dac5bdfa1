package models

import (
	"fmt"
	"time"
)

// SnapshotVersion is the current structural version of persisted snapshots.
// Loading tolerates unknown fields so snapshots survive minor upgrades;
// the version gate only rejects files from incompatible futures or
// unrecognizable pasts.
const SnapshotVersion = 1

// QueueState represents the global execution state of the queue.
type QueueState string

const (
	QueueRunning QueueState = "running"
	QueuePaused  QueueState = "paused"
	QueueStopped QueueState = "stopped"
)

// QueueSettings echo the queue configuration at save time, for
// inspection of state files. They are informational only: on restore
// the live configuration is authoritative and persisted values are
// never applied.
type QueueSettings struct {
	MaxWorkers int `json:"max_workers"`
	MaxRetries int `json:"max_retries"`
}

// Snapshot is a versioned, fully serializable projection of queue + job
// state, written atomically and read once at startup for recovery. It is
// always a deep copy; serialization never races with live mutation.
type Snapshot struct {
	Version  int           `json:"version"`
	SavedAt  time.Time     `json:"saved_at"`
	State    QueueState    `json:"queue_state"`
	Settings QueueSettings `json:"queue_settings"`
	Jobs     []*Job        `json:"jobs"`
}

// Validate performs the structural version check applied before a loaded
// snapshot is trusted.
func (s *Snapshot) Validate() error {
	if s.Version < 1 || s.Version > SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d (current %d)", s.Version, SnapshotVersion)
	}
	seen := make(map[string]struct{}, len(s.Jobs))
	for i, job := range s.Jobs {
		if job == nil || job.Task == nil || job.Task.ID == "" {
			return fmt.Errorf("snapshot job %d is missing its task descriptor", i)
		}
		if _, dup := seen[job.Task.ID]; dup {
			return fmt.Errorf("snapshot contains duplicate job id %s", job.Task.ID)
		}
		seen[job.Task.ID] = struct{}{}
	}
	return nil
}
