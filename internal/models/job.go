// -----------------------------------------------------------------------
// Job - Mutable execution-tracking wrapper around a TaskDescriptor
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobPending   JobState = "pending"   // Queued, not started
	JobRunning   JobState = "running"   // Active execution on a worker
	JobPaused    JobState = "paused"    // Queue-level pause (no per-job pause)
	JobCompleted JobState = "completed" // Successfully finished
	JobFailed    JobState = "failed"    // Error occurred
	JobSkipped   JobState = "skipped"   // Pre-execution validation failed
	JobCancelled JobState = "cancelled" // Stopped or removed by the user
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// Active reports whether the job currently occupies or may occupy a worker.
func (s JobState) Active() bool {
	return s == JobRunning || s == JobPaused
}

// HandlerResult is the success payload a job handler returns. The engine
// does not interpret output file contents; it only records paths for
// later summarization.
type HandlerResult struct {
	OutputFiles      []string               `json:"output_files"`
	Warnings         []string               `json:"warnings,omitempty"`
	ValidationPassed bool                   `json:"validation_passed"`
	Details          map[string]interface{} `json:"details,omitempty"`
	ProcessingTime   float64                `json:"processing_time"` // seconds
}

// Clone returns a deep copy of the result.
func (r *HandlerResult) Clone() *HandlerResult {
	if r == nil {
		return nil
	}
	clone := *r
	clone.OutputFiles = append([]string(nil), r.OutputFiles...)
	clone.Warnings = append([]string(nil), r.Warnings...)
	if r.Details != nil {
		clone.Details = make(map[string]interface{}, len(r.Details))
		for k, v := range r.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// MaxJobLogLines bounds the per-job diagnostic ring buffer. Full log
// history lives in the job log storage; the ring buffer is what travels
// with snapshots and listings.
const MaxJobLogLines = 50

// Job wraps one TaskDescriptor with mutable lifecycle state. Jobs are
// owned exclusively by the queue; all mutation goes through queue methods
// under the queue lock, never by external code touching a Job directly.
type Job struct {
	Task *TaskDescriptor `json:"task"`

	State        JobState `json:"state"`
	Progress     float64  `json:"progress"` // 0.0-1.0, monotonic while running
	AttemptCount int      `json:"attempt_count"`

	Result *HandlerResult `json:"result,omitempty"` // present only in Completed
	Error  *JobError      `json:"error,omitempty"`  // present only in Failed/Skipped/Cancelled

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	LogLines []string `json:"log_lines,omitempty"` // bounded diagnostic ring buffer
}

// NewJob creates a Pending job owning the given task.
func NewJob(task *TaskDescriptor) *Job {
	return &Job{
		Task:  task,
		State: JobPending,
	}
}

// ID returns the job identifier (shared with the owned task, 1:1).
func (j *Job) ID() string {
	return j.Task.ID
}

// Duration returns the wall time of the most recent execution, or zero if
// the job never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// AppendLog adds a diagnostic line, evicting the oldest beyond the bound.
// Not safe for concurrent use; callers hold the queue lock.
func (j *Job) AppendLog(line string) {
	j.LogLines = append(j.LogLines, line)
	if len(j.LogLines) > MaxJobLogLines {
		j.LogLines = j.LogLines[len(j.LogLines)-MaxJobLogLines:]
	}
}

// Clone returns a deep copy safe to hand outside the queue lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Task = j.Task.Clone()
	clone.Result = j.Result.Clone()
	if j.Error != nil {
		e := *j.Error
		clone.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	clone.LogLines = append([]string(nil), j.LogLines...)
	return &clone
}
