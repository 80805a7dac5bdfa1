package models

import "time"

// JobLogEntry is one persisted diagnostic log line for a job. The full
// history lives in BadgerDB; the in-memory Job keeps only a bounded ring.
type JobLogEntry struct {
	AssociatedJobID string    `json:"job_id"`
	Timestamp       time.Time `json:"timestamp"`
	Level           string    `json:"level"`
	Message         string    `json:"message"`
}
