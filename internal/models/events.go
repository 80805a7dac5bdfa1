package models

import "time"

// EventType represents different event types published by the queue core.
type EventType string

const (
	// EventJobStateChanged fires on every job lifecycle transition.
	EventJobStateChanged EventType = "job_state_changed"
	// EventJobProgress fires on per-job progress updates from handlers.
	EventJobProgress EventType = "job_progress"
	// EventQueueStateChanged fires on Running/Paused/Stopped transitions.
	EventQueueStateChanged EventType = "queue_state_changed"
	// EventQueueSummary carries the aggregate progress summary on a tick.
	EventQueueSummary EventType = "queue_summary"
)

// Event is a system event delivered to observers. Payloads are immutable
// DTOs; no subscriber ever receives a reference into live queue state.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// JobStateChange is the payload of EventJobStateChanged.
type JobStateChange struct {
	JobID    string
	OldState JobState
	NewState JobState
	Error    string // message for failed/skipped transitions
}

// JobProgressUpdate is the payload of EventJobProgress.
type JobProgressUpdate struct {
	JobID    string
	Progress float64
	Message  string
}

// QueueStateChange is the payload of EventQueueStateChanged.
type QueueStateChange struct {
	OldState QueueState
	NewState QueueState
}
