package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobLogStorage persists job execution log entries in Badger.
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	seq    atomic.Uint64
}

// NewJobLogStorage creates a job log storage backed by the given connection.
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) *JobLogStorage {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

// Append stores a log entry for a job. Keys combine the job ID, a
// nanosecond timestamp and a process-local sequence so concurrent
// writers never collide.
func (s *JobLogStorage) Append(ctx context.Context, jobID string, entry models.JobLogEntry) error {
	entry.AssociatedJobID = jobID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s_%d_%d", jobID, entry.Timestamp.UnixNano(), s.seq.Add(1))

	if err := s.db.Store().Insert(key, entry); err != nil {
		return fmt.Errorf("failed to store log entry for job %s: %w", jobID, err)
	}
	return nil
}

// GetLogs returns log entries for a job ordered by timestamp. A limit
// of 0 returns all entries.
func (s *JobLogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error) {
	var entries []models.JobLogEntry

	query := badgerhold.Where("AssociatedJobID").Eq(jobID).SortBy("Timestamp")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query logs for job %s: %w", jobID, err)
	}
	return entries, nil
}

// DeleteLogs removes all log entries for a job.
func (s *JobLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.JobLogEntry{}, badgerhold.Where("AssociatedJobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete logs for job %s: %w", jobID, err)
	}
	s.logger.Debug().Str("job_id", jobID).Msg("Deleted job logs")
	return nil
}
