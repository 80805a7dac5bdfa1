// Package queue implements the ordered job queue, the worker pool that
// drains it, and the progress aggregation derived from it. All job
// mutation flows through Queue methods under a single lock; persistence
// and event delivery happen outside that lock.
package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

// Settings carries the queue configuration captured in snapshots.
type Settings struct {
	MaxWorkers int
	MaxRetries int
}

// Queue is the ordered collection of jobs with per-state index buckets.
// It is the single mutation point for all job state.
type Queue struct {
	mu    sync.Mutex
	jobs  []*models.Job
	byID  map[string]*models.Job
	index map[models.JobState]map[string]struct{}

	state    models.QueueState
	settings Settings

	// cancels holds the cancellation hooks for running jobs, bound by
	// the executor at dequeue time.
	cancels        map[string]context.CancelFunc
	removeOnCancel map[string]struct{}

	// wake nudges idle workers after enqueue/resume. Capacity one so a
	// signal is never lost and senders never block.
	wake chan struct{}

	onMutate func()
	events   interfaces.EventService
	logger   arbor.ILogger
}

// New creates an empty queue in the Stopped state.
func New(logger arbor.ILogger, events interfaces.EventService, settings Settings) *Queue {
	q := &Queue{
		byID:           make(map[string]*models.Job),
		index:          make(map[models.JobState]map[string]struct{}),
		state:          models.QueueStopped,
		settings:       settings,
		cancels:        make(map[string]context.CancelFunc),
		removeOnCancel: make(map[string]struct{}),
		wake:           make(chan struct{}, 1),
		events:         events,
		logger:         logger,
	}
	for _, s := range []models.JobState{
		models.JobPending, models.JobRunning, models.JobPaused,
		models.JobCompleted, models.JobFailed, models.JobSkipped, models.JobCancelled,
	} {
		q.index[s] = make(map[string]struct{})
	}
	return q
}

// SetOnMutate registers a hook invoked after every state-changing
// operation, outside the queue lock. The persistence saver uses it to
// schedule a snapshot write.
func (q *Queue) SetOnMutate(fn func()) {
	q.mu.Lock()
	q.onMutate = fn
	q.mu.Unlock()
}

// Wake returns the channel workers select on to learn about new work.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notifyMutate() {
	q.mu.Lock()
	fn := q.onMutate
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// transition moves a job between state buckets. Caller holds the lock.
func (q *Queue) transition(job *models.Job, to models.JobState) {
	delete(q.index[job.State], job.ID())
	job.State = to
	q.index[to][job.ID()] = struct{}{}
}

func (q *Queue) publishJobChange(jobID string, old, new models.JobState, errMsg string) {
	q.events.Publish(context.Background(), models.Event{
		Type:      models.EventJobStateChanged,
		Timestamp: time.Now(),
		Payload: models.JobStateChange{
			JobID:    jobID,
			OldState: old,
			NewState: new,
			Error:    errMsg,
		},
	})
}

func (q *Queue) publishQueueChange(old, new models.QueueState) {
	q.events.Publish(context.Background(), models.Event{
		Type:      models.EventQueueStateChanged,
		Timestamp: time.Now(),
		Payload: models.QueueStateChange{
			OldState: old,
			NewState: new,
		},
	})
}

// Enqueue validates the task, wraps it in a pending job and appends it
// to the end of the sequence.
func (q *Queue) Enqueue(task *models.TaskDescriptor) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	if _, exists := q.byID[task.ID]; exists {
		q.mu.Unlock()
		return "", ErrDuplicateTask
	}
	job := models.NewJob(task)
	q.jobs = append(q.jobs, job)
	q.byID[job.ID()] = job
	q.index[models.JobPending][job.ID()] = struct{}{}
	q.mu.Unlock()

	q.logger.Debug().
		Str("job_id", job.ID()).
		Str("kind", string(task.Kind)).
		Str("source", task.SourcePath).
		Msg("Job enqueued")

	q.publishJobChange(job.ID(), "", models.JobPending, "")
	q.signalWake()
	q.notifyMutate()
	return job.ID(), nil
}

// DequeueNext returns the next pending job in order whose source file
// still exists, transitioned to Running. It returns nil when the queue
// is not running or no job is eligible. Jobs whose source has vanished
// are marked Skipped without consuming a worker slot.
//
// The source existence check runs outside the lock; the job is
// re-verified before the Running transition so a concurrent remove or
// reorder cannot be raced.
func (q *Queue) DequeueNext() *models.Job {
	skipAfter := make(map[string]struct{})

	for {
		q.mu.Lock()
		if q.state != models.QueueRunning {
			q.mu.Unlock()
			return nil
		}

		var candidate *models.Job
		for _, job := range q.jobs {
			if job.State != models.JobPending {
				continue
			}
			if _, skipped := skipAfter[job.ID()]; skipped {
				continue
			}
			candidate = job
			break
		}
		if candidate == nil {
			q.mu.Unlock()
			return nil
		}
		id := candidate.ID()
		source := candidate.Task.SourcePath
		q.mu.Unlock()

		// Stat without holding the lock. Files can disappear between
		// scan and execution.
		if _, err := os.Stat(source); err != nil {
			skipAfter[id] = struct{}{}
			q.markSkipped(id, models.NewValidationError("source file unavailable: %s", source))
			continue
		}

		q.mu.Lock()
		job, ok := q.byID[id]
		if !ok || job.State != models.JobPending || q.state != models.QueueRunning {
			q.mu.Unlock()
			if !ok || q.state != models.QueueRunning {
				return nil
			}
			continue
		}
		now := time.Now()
		job.StartedAt = &now
		job.CompletedAt = nil
		job.Progress = 0
		job.AttemptCount++
		attempt := job.AttemptCount
		q.transition(job, models.JobRunning)
		clone := job.Clone()
		q.mu.Unlock()

		q.logger.Debug().
			Str("job_id", id).
			Int("attempt", attempt).
			Msg("Job dequeued")

		q.publishJobChange(id, models.JobPending, models.JobRunning, "")
		q.notifyMutate()
		return clone
	}
}

// BindCancel registers the cancellation hook for a running job. The
// executor calls this immediately after dequeue so StopAll and Remove
// can reach in-flight work.
func (q *Queue) BindCancel(jobID string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels[jobID] = cancel
}

// MarkCompleted transitions a running job to Completed. A second call
// for the same id is a logged no-op.
func (q *Queue) MarkCompleted(jobID string, result *models.HandlerResult) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn().Str("job_id", jobID).Msg("MarkCompleted for unknown job")
		return
	}
	if job.State != models.JobRunning {
		state := job.State
		q.mu.Unlock()
		q.logger.Warn().
			Str("job_id", jobID).
			Str("state", string(state)).
			Str("kind", string(models.ErrorConcurrency)).
			Msg("MarkCompleted on non-running job ignored")
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.Progress = 1.0
	job.Result = result.Clone()
	job.Error = nil
	job.AppendLog("completed in " + job.Duration().Round(time.Millisecond).String())
	q.transition(job, models.JobCompleted)
	delete(q.cancels, jobID)
	q.mu.Unlock()

	q.publishJobChange(jobID, models.JobRunning, models.JobCompleted, "")
	q.notifyMutate()
}

// MarkFailed transitions a running job to Failed, or back to Pending
// when the error is retriable and attempts remain.
func (q *Queue) MarkFailed(jobID string, jobErr *models.JobError) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn().Str("job_id", jobID).Msg("MarkFailed for unknown job")
		return
	}
	if job.State != models.JobRunning {
		state := job.State
		q.mu.Unlock()
		q.logger.Warn().
			Str("job_id", jobID).
			Str("state", string(state)).
			Str("kind", string(models.ErrorConcurrency)).
			Msg("MarkFailed on non-running job ignored")
		return
	}

	retry := jobErr != nil && jobErr.Retriable && job.AttemptCount <= q.settings.MaxRetries
	now := time.Now()

	if retry {
		job.AppendLog(fmt.Sprintf("attempt %d failed (retriable): %s", job.AttemptCount, jobErr.Message))
		job.StartedAt = nil
		job.CompletedAt = nil
		job.Progress = 0
		job.Error = nil
		q.transition(job, models.JobPending)
	} else {
		job.CompletedAt = &now
		job.Error = jobErr
		job.Result = nil
		if jobErr != nil {
			job.AppendLog("failed: " + jobErr.Message)
		}
		q.transition(job, models.JobFailed)
	}
	delete(q.cancels, jobID)
	attempt := job.AttemptCount
	q.mu.Unlock()

	if retry {
		q.logger.Warn().
			Str("job_id", jobID).
			Int("attempt", attempt).
			Err(jobErr).
			Msg("Retriable failure, job requeued")
		q.publishJobChange(jobID, models.JobRunning, models.JobPending, jobErr.Message)
		q.signalWake()
	} else {
		q.logger.Error().
			Str("job_id", jobID).
			Int("attempt", attempt).
			Err(jobErr).
			Msg("Job failed")
		msg := ""
		if jobErr != nil {
			msg = jobErr.Message
		}
		q.publishJobChange(jobID, models.JobRunning, models.JobFailed, msg)
	}
	q.notifyMutate()
}

// markSkipped transitions a pending job directly to Skipped. Used when
// pre-execution validation fails before any handler runs.
func (q *Queue) markSkipped(jobID string, jobErr *models.JobError) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.State != models.JobPending {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.Error = jobErr
	job.AppendLog("skipped: " + jobErr.Message)
	q.transition(job, models.JobSkipped)
	q.mu.Unlock()

	q.logger.Warn().
		Str("job_id", jobID).
		Str("reason", jobErr.Message).
		Msg("Job skipped")

	q.publishJobChange(jobID, models.JobPending, models.JobSkipped, jobErr.Message)
	q.notifyMutate()
}

// MarkSkipped is the handler-visible path for skips detected after
// dequeue, such as an unreadable file discovered by the validator.
func (q *Queue) MarkSkipped(jobID string, jobErr *models.JobError) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn().Str("job_id", jobID).Msg("MarkSkipped for unknown job")
		return
	}
	if job.State != models.JobRunning && job.State != models.JobPending {
		state := job.State
		q.mu.Unlock()
		q.logger.Warn().
			Str("job_id", jobID).
			Str("state", string(state)).
			Msg("MarkSkipped on terminal job ignored")
		return
	}
	old := job.State
	now := time.Now()
	job.CompletedAt = &now
	job.Error = jobErr
	job.Result = nil
	job.AppendLog("skipped: " + jobErr.Message)
	q.transition(job, models.JobSkipped)
	delete(q.cancels, jobID)
	q.mu.Unlock()

	q.publishJobChange(jobID, old, models.JobSkipped, jobErr.Message)
	q.notifyMutate()
}

// MarkCancelled finalizes a job after its handler observed cancellation,
// or cancels a pending job that never started. Jobs flagged for removal
// are dropped from the queue once acknowledged.
func (q *Queue) MarkCancelled(jobID string) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	if job.State.Terminal() {
		q.mu.Unlock()
		return
	}
	old := job.State
	now := time.Now()
	job.CompletedAt = &now
	job.Result = nil
	job.AppendLog("cancelled")
	q.transition(job, models.JobCancelled)
	delete(q.cancels, jobID)

	_, removeRequested := q.removeOnCancel[jobID]
	if removeRequested {
		delete(q.removeOnCancel, jobID)
		q.dropLocked(jobID)
	}
	q.mu.Unlock()

	q.logger.Debug().Str("job_id", jobID).Msg("Job cancelled")
	q.publishJobChange(jobID, old, models.JobCancelled, "")
	q.notifyMutate()
}

// UpdateProgress records handler-reported progress for a running job.
// Values never decrease; full progress is reserved for completion.
func (q *Queue) UpdateProgress(jobID string, progress float64, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 0.99 {
		progress = 0.99
	}

	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.State != models.JobRunning || progress <= job.Progress {
		q.mu.Unlock()
		return
	}
	job.Progress = progress
	if message != "" {
		job.AppendLog(message)
	}
	q.mu.Unlock()

	q.events.Publish(context.Background(), models.Event{
		Type:      models.EventJobProgress,
		Timestamp: time.Now(),
		Payload: models.JobProgressUpdate{
			JobID:    jobID,
			Progress: progress,
			Message:  message,
		},
	})
}

// Reorder moves a pending job to a new position in the sequence.
func (q *Queue) Reorder(jobID string, newIndex int) error {
	q.mu.Lock()

	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.State != models.JobPending {
		q.mu.Unlock()
		return ErrInvalidState
	}

	current := -1
	for i, j := range q.jobs {
		if j.ID() == jobID {
			current = i
			break
		}
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(q.jobs) {
		newIndex = len(q.jobs) - 1
	}
	if current < 0 || newIndex == current {
		q.mu.Unlock()
		return nil
	}

	q.jobs = append(q.jobs[:current], q.jobs[current+1:]...)
	rest := append([]*models.Job{job}, q.jobs[newIndex:]...)
	q.jobs = append(q.jobs[:newIndex], rest...)
	q.mu.Unlock()

	q.notifyMutate()
	return nil
}

// Remove deletes a job from the queue. A running job is not removed
// immediately; its cancellation is requested and the removal happens
// once the worker acknowledges.
func (q *Queue) Remove(jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}

	if job.State == models.JobRunning {
		q.removeOnCancel[jobID] = struct{}{}
		cancel := q.cancels[jobID]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		q.logger.Debug().Str("job_id", jobID).Msg("Removal deferred until cancellation")
		return nil
	}

	q.dropLocked(jobID)
	q.mu.Unlock()
	q.signalWake()
	q.notifyMutate()
	return nil
}

// dropLocked removes a job from the sequence and all indexes. Caller
// holds the lock.
func (q *Queue) dropLocked(jobID string) {
	job, ok := q.byID[jobID]
	if !ok {
		return
	}
	delete(q.byID, jobID)
	delete(q.index[job.State], jobID)
	for i, j := range q.jobs {
		if j.ID() == jobID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
}

// PauseAll drains the queue: running jobs finish, no new dequeues.
func (q *Queue) PauseAll() {
	q.setState(models.QueuePaused)
}

// ResumeAll puts the queue back in the running state and wakes workers.
func (q *Queue) ResumeAll() {
	q.setState(models.QueueRunning)
	q.signalWake()
}

// StopAll halts dequeuing and signals cancellation to every running
// job. Pending jobs stay pending.
func (q *Queue) StopAll() {
	q.mu.Lock()
	old := q.state
	q.state = models.QueueStopped
	cancels := make([]context.CancelFunc, 0, len(q.cancels))
	for _, c := range q.cancels {
		cancels = append(cancels, c)
	}
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if old != models.QueueStopped {
		q.logger.Info().Int("cancelling", len(cancels)).Msg("Queue stopped")
		q.publishQueueChange(old, models.QueueStopped)
	}
	q.signalWake()
	q.notifyMutate()
}

// ResetAll forces every non-pending job back to Pending with cleared
// progress, results and errors. The queue must be stopped or paused.
func (q *Queue) ResetAll() error {
	q.mu.Lock()
	if q.state == models.QueueRunning {
		q.mu.Unlock()
		return ErrQueueRunning
	}
	reset := 0
	for _, job := range q.jobs {
		if job.State == models.JobPending {
			continue
		}
		job.Progress = 0
		job.AttemptCount = 0
		job.Result = nil
		job.Error = nil
		job.StartedAt = nil
		job.CompletedAt = nil
		job.LogLines = nil
		q.transition(job, models.JobPending)
		reset++
	}
	q.mu.Unlock()

	q.logger.Info().Int("jobs", reset).Msg("Queue reset")
	q.notifyMutate()
	return nil
}

func (q *Queue) setState(to models.QueueState) {
	q.mu.Lock()
	old := q.state
	q.state = to
	q.mu.Unlock()

	if old != to {
		q.logger.Info().
			Str("from", string(old)).
			Str("to", string(to)).
			Msg("Queue state changed")
		q.publishQueueChange(old, to)
		q.notifyMutate()
	}
}

// State returns the queue's global state.
func (q *Queue) State() models.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Get returns a deep copy of one job.
func (q *Queue) Get(jobID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Jobs returns deep copies of all jobs in queue order.
func (q *Queue) Jobs() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Job, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = job.Clone()
	}
	return out
}

// ContainsSource reports whether any job references the given source
// path. The scheduler uses this to avoid re-enqueuing seen files.
func (q *Queue) ContainsSource(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Task.SourcePath == path {
			return true
		}
	}
	return false
}

// Snapshot produces a deep, serializable copy of the queue for
// persistence. Safe to call concurrently with mutation.
func (q *Queue) Snapshot() *models.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*models.Job, len(q.jobs))
	for i, job := range q.jobs {
		jobs[i] = job.Clone()
	}
	return &models.Snapshot{
		Version: models.SnapshotVersion,
		SavedAt: time.Now(),
		State:   q.state,
		Settings: models.QueueSettings{
			MaxWorkers: q.settings.MaxWorkers,
			MaxRetries: q.settings.MaxRetries,
		},
		Jobs: jobs,
	}
}

// Restore replaces the queue contents from a persisted snapshot. Jobs
// that were Running, Paused or Cancelled at save time revert to Pending
// since their partial progress cannot be trusted. The queue itself
// restores Stopped; the caller decides when to resume. Persisted
// queue_settings are ignored: the settings this queue was constructed
// with stay in effect.
func (q *Queue) Restore(snap *models.Snapshot) {
	if snap == nil {
		return
	}

	q.mu.Lock()
	q.jobs = q.jobs[:0]
	q.byID = make(map[string]*models.Job)
	for s := range q.index {
		q.index[s] = make(map[string]struct{})
	}

	restored, reverted := 0, 0
	for _, saved := range snap.Jobs {
		job := saved.Clone()
		switch job.State {
		case models.JobRunning, models.JobPaused, models.JobCancelled:
			job.State = models.JobPending
			job.Progress = 0
			job.StartedAt = nil
			job.CompletedAt = nil
			job.Error = nil
			job.Result = nil
			reverted++
		}
		q.jobs = append(q.jobs, job)
		q.byID[job.ID()] = job
		q.index[job.State][job.ID()] = struct{}{}
		restored++
	}
	q.state = models.QueueStopped
	q.mu.Unlock()

	q.logger.Info().
		Int("jobs", restored).
		Int("reverted_to_pending", reverted).
		Msg("Queue restored from snapshot")
}

// Stats is the per-state census used for progress summaries. Computed
// in one pass under the lock.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Skipped   int
	Cancelled int
	Total     int

	// ProgressSum is the sum of per-job progress, with terminal jobs
	// counting as fully processed.
	ProgressSum float64

	// CompletedSeconds sums the durations of completed jobs, for ETA
	// estimation.
	CompletedSeconds float64
}

// Stats returns the current census.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	s.Total = len(q.jobs)
	for _, job := range q.jobs {
		switch job.State {
		case models.JobPending:
			s.Pending++
			s.ProgressSum += job.Progress
		case models.JobRunning, models.JobPaused:
			s.Running++
			s.ProgressSum += job.Progress
		case models.JobCompleted:
			s.Completed++
			s.ProgressSum += 1.0
			s.CompletedSeconds += job.Duration().Seconds()
		case models.JobFailed:
			s.Failed++
			s.ProgressSum += 1.0
		case models.JobSkipped:
			s.Skipped++
			s.ProgressSum += 1.0
		case models.JobCancelled:
			s.Cancelled++
			s.ProgressSum += 1.0
		}
	}
	return s
}
