package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/services/events"
)

func newTestQueue(t *testing.T, maxRetries int) *Queue {
	t.Helper()
	logger := arbor.NewLogger()
	svc := events.NewService(logger)
	t.Cleanup(func() { svc.Close() })
	return New(logger, svc, Settings{MaxWorkers: 1, MaxRetries: maxRetries})
}

// writeSourceFile creates a real file so dequeue's existence check passes.
func writeSourceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("solid test\nendsolid test\n"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	return path
}

func enqueueTask(t *testing.T, q *Queue, source string) string {
	t.Helper()
	task := models.NewTask(models.TaskValidate, source, t.TempDir())
	id, err := q.Enqueue(task)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return id
}

func TestEnqueueGeneratesDistinctIDs(t *testing.T) {
	q := newTestQueue(t, 0)
	source := writeSourceFile(t, "model.stl")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := enqueueTask(t, q, source)
		if seen[id] {
			t.Fatalf("duplicate job id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := newTestQueue(t, 0)
	source := writeSourceFile(t, "model.stl")

	task := models.NewTask(models.TaskValidate, source, t.TempDir())
	if _, err := q.Enqueue(task); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(task.Clone()); err != ErrDuplicateTask {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestDequeueRespectsQueueState(t *testing.T) {
	q := newTestQueue(t, 0)
	enqueueTask(t, q, writeSourceFile(t, "model.stl"))

	// Stopped queue never hands out work.
	if job := q.DequeueNext(); job != nil {
		t.Fatalf("dequeue on stopped queue returned job %s", job.ID())
	}

	q.ResumeAll()
	job := q.DequeueNext()
	if job == nil {
		t.Fatal("dequeue on running queue returned nil")
	}
	if job.State != models.JobRunning {
		t.Fatalf("dequeued job state = %s, want running", job.State)
	}
	if job.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", job.AttemptCount)
	}
	if job.StartedAt == nil {
		t.Fatal("started_at not recorded on dequeue")
	}

	// The same job is never handed out twice.
	if second := q.DequeueNext(); second != nil {
		t.Fatalf("second dequeue returned %s while first still running", second.ID())
	}
}

func TestDequeueOrderFollowsSequence(t *testing.T) {
	q := newTestQueue(t, 0)
	var ids []string
	for _, name := range []string{"a.stl", "b.stl", "c.stl"} {
		ids = append(ids, enqueueTask(t, q, writeSourceFile(t, name)))
	}
	q.ResumeAll()

	for i, want := range ids {
		job := q.DequeueNext()
		if job == nil {
			t.Fatalf("dequeue %d returned nil", i)
		}
		if job.ID() != want {
			t.Fatalf("dequeue %d = %s, want %s", i, job.ID(), want)
		}
		q.MarkCompleted(job.ID(), &models.HandlerResult{})
	}
}

func TestDequeueSkipsMissingSource(t *testing.T) {
	q := newTestQueue(t, 0)
	missing := filepath.Join(t.TempDir(), "gone.stl")
	task := models.NewTask(models.TaskValidate, missing, t.TempDir())
	id, err := q.Enqueue(task)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	present := enqueueTask(t, q, writeSourceFile(t, "here.stl"))
	q.ResumeAll()

	job := q.DequeueNext()
	if job == nil {
		t.Fatal("expected the job with an existing source")
	}
	if job.ID() != present {
		t.Fatalf("dequeued %s, want %s", job.ID(), present)
	}

	skipped, err := q.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if skipped.State != models.JobSkipped {
		t.Fatalf("missing-source job state = %s, want skipped", skipped.State)
	}
	if skipped.AttemptCount != 0 {
		t.Fatalf("skipped job consumed an attempt: %d", skipped.AttemptCount)
	}
	if skipped.Error == nil || skipped.Error.Kind != models.ErrorValidation {
		t.Fatalf("skipped job error = %+v, want validation error", skipped.Error)
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	q := newTestQueue(t, 0)
	enqueueTask(t, q, writeSourceFile(t, "model.stl"))
	q.ResumeAll()

	job := q.DequeueNext()
	q.MarkCompleted(job.ID(), &models.HandlerResult{OutputFiles: []string{"out.json"}})
	// Second completion must be a no-op, not a corruption.
	q.MarkCompleted(job.ID(), &models.HandlerResult{})

	got, _ := q.Get(job.ID())
	if got.State != models.JobCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if got.Progress != 1.0 {
		t.Fatalf("progress = %f, want 1.0", got.Progress)
	}
	if len(got.Result.OutputFiles) != 1 {
		t.Fatalf("first result was overwritten: %+v", got.Result)
	}
}

func TestRetriableFailureRequeuesUpToBound(t *testing.T) {
	q := newTestQueue(t, 2)
	id := enqueueTask(t, q, writeSourceFile(t, "flaky.stl"))
	q.ResumeAll()

	// max_retries=2 allows exactly 3 attempts.
	for attempt := 1; attempt <= 3; attempt++ {
		job := q.DequeueNext()
		if job == nil {
			t.Fatalf("attempt %d: no job available", attempt)
		}
		if job.AttemptCount != attempt {
			t.Fatalf("attempt count = %d, want %d", job.AttemptCount, attempt)
		}
		q.MarkFailed(id, models.NewTransientError("disk hiccup"))
	}

	got, _ := q.Get(id)
	if got.State != models.JobFailed {
		t.Fatalf("state after exhausted retries = %s, want failed", got.State)
	}
	if got.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", got.AttemptCount)
	}
	if job := q.DequeueNext(); job != nil {
		t.Fatalf("terminal job was requeued: %s", job.ID())
	}

	// Retry history stays visible in the diagnostic log.
	retryLines := 0
	for _, line := range got.LogLines {
		if len(line) > 7 && line[:7] == "attempt" {
			retryLines++
		}
	}
	if retryLines != 2 {
		t.Fatalf("retry log lines = %d, want 2: %v", retryLines, got.LogLines)
	}
}

func TestNonRetriableFailureIsTerminal(t *testing.T) {
	q := newTestQueue(t, 2)
	id := enqueueTask(t, q, writeSourceFile(t, "broken.stl"))
	q.ResumeAll()

	q.DequeueNext()
	q.MarkFailed(id, models.NewHandlerError("nil pointer in handler"))

	got, _ := q.Get(id)
	if got.State != models.JobFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", got.AttemptCount)
	}
}

func TestPauseDrainsInFlightWork(t *testing.T) {
	q := newTestQueue(t, 0)
	first := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	enqueueTask(t, q, writeSourceFile(t, "b.stl"))
	q.ResumeAll()

	job := q.DequeueNext()
	if job.ID() != first {
		t.Fatalf("dequeued %s, want %s", job.ID(), first)
	}

	q.PauseAll()

	// No new dequeues while paused.
	if next := q.DequeueNext(); next != nil {
		t.Fatalf("dequeue while paused returned %s", next.ID())
	}

	// The in-flight job may still finish.
	q.MarkCompleted(first, &models.HandlerResult{})
	got, _ := q.Get(first)
	if got.State != models.JobCompleted {
		t.Fatalf("in-flight job state after pause = %s, want completed", got.State)
	}
}

func TestStopCancelsRunningKeepsPending(t *testing.T) {
	q := newTestQueue(t, 0)
	running := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	pending := enqueueTask(t, q, writeSourceFile(t, "b.stl"))
	q.ResumeAll()

	q.DequeueNext()
	cancelled := false
	q.BindCancel(running, func() { cancelled = true })

	q.StopAll()
	if !cancelled {
		t.Fatal("stop did not signal cancellation to the running job")
	}

	// The worker acknowledges cancellation.
	q.MarkCancelled(running)

	gotRunning, _ := q.Get(running)
	if gotRunning.State != models.JobCancelled {
		t.Fatalf("running job after stop = %s, want cancelled", gotRunning.State)
	}
	gotPending, _ := q.Get(pending)
	if gotPending.State != models.JobPending {
		t.Fatalf("pending job after stop = %s, want pending", gotPending.State)
	}
}

func TestReorderOnlyPendingJobs(t *testing.T) {
	q := newTestQueue(t, 0)
	a := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	b := enqueueTask(t, q, writeSourceFile(t, "b.stl"))
	c := enqueueTask(t, q, writeSourceFile(t, "c.stl"))

	if err := q.Reorder(c, 0); err != nil {
		t.Fatalf("reorder pending job failed: %v", err)
	}
	order := q.Jobs()
	if order[0].ID() != c || order[1].ID() != a || order[2].ID() != b {
		t.Fatalf("unexpected order after reorder: %s, %s, %s", order[0].ID(), order[1].ID(), order[2].ID())
	}

	q.ResumeAll()
	job := q.DequeueNext()
	if err := q.Reorder(job.ID(), 2); err != ErrInvalidState {
		t.Fatalf("reorder running job: got %v, want ErrInvalidState", err)
	}
	q.MarkCompleted(job.ID(), &models.HandlerResult{})
	if err := q.Reorder(job.ID(), 2); err != ErrInvalidState {
		t.Fatalf("reorder completed job: got %v, want ErrInvalidState", err)
	}

	// Failed reorders leave the queue unchanged.
	after := q.Jobs()
	if len(after) != 3 {
		t.Fatalf("job count changed: %d", len(after))
	}
}

func TestRemoveByState(t *testing.T) {
	q := newTestQueue(t, 0)
	a := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	b := enqueueTask(t, q, writeSourceFile(t, "b.stl"))

	if err := q.Remove(a); err != nil {
		t.Fatalf("remove pending job failed: %v", err)
	}
	if _, err := q.Get(a); err != ErrJobNotFound {
		t.Fatalf("removed job still present: %v", err)
	}

	q.ResumeAll()
	job := q.DequeueNext()
	if job.ID() != b {
		t.Fatalf("dequeued %s, want %s", job.ID(), b)
	}
	cancelSignalled := false
	q.BindCancel(b, func() { cancelSignalled = true })

	// Removing a running job requests cancellation first.
	if err := q.Remove(b); err != nil {
		t.Fatalf("remove running job failed: %v", err)
	}
	if !cancelSignalled {
		t.Fatal("remove did not signal cancellation")
	}
	if _, err := q.Get(b); err != nil {
		t.Fatal("running job removed before cancellation acknowledged")
	}

	q.MarkCancelled(b)
	if _, err := q.Get(b); err != ErrJobNotFound {
		t.Fatal("job not removed after cancellation acknowledged")
	}
}

func TestConservationAcrossTransitions(t *testing.T) {
	q := newTestQueue(t, 1)
	sources := []string{"a.stl", "b.stl", "c.stl", "d.stl", "e.stl"}
	for _, name := range sources {
		enqueueTask(t, q, writeSourceFile(t, name))
	}

	check := func(when string) {
		s := q.Stats()
		sum := s.Pending + s.Running + s.Completed + s.Failed + s.Skipped + s.Cancelled
		if sum != s.Total || s.Total != len(sources) {
			t.Fatalf("%s: state buckets sum to %d, total %d, want %d", when, sum, s.Total, len(sources))
		}
	}

	check("after enqueue")
	q.ResumeAll()

	j1 := q.DequeueNext()
	check("one running")
	q.MarkCompleted(j1.ID(), &models.HandlerResult{})
	check("one completed")

	j2 := q.DequeueNext()
	q.MarkFailed(j2.ID(), models.NewTransientError("hiccup"))
	check("one requeued")

	j3 := q.DequeueNext()
	q.MarkFailed(j3.ID(), models.NewHandlerError("boom"))
	check("one failed")

	j4 := q.DequeueNext()
	q.BindCancel(j4.ID(), func() {})
	q.StopAll()
	q.MarkCancelled(j4.ID())
	check("one cancelled")
}

func TestResetAllRequiresStoppedQueue(t *testing.T) {
	q := newTestQueue(t, 0)
	id := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	q.ResumeAll()

	job := q.DequeueNext()
	q.MarkCompleted(job.ID(), &models.HandlerResult{})

	if err := q.ResetAll(); err != ErrQueueRunning {
		t.Fatalf("reset on running queue: got %v, want ErrQueueRunning", err)
	}

	q.StopAll()
	if err := q.ResetAll(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	got, _ := q.Get(id)
	if got.State != models.JobPending {
		t.Fatalf("state after reset = %s, want pending", got.State)
	}
	if got.Progress != 0 || got.AttemptCount != 0 || got.Result != nil || got.Error != nil {
		t.Fatalf("reset did not clear execution state: %+v", got)
	}
}

func TestSnapshotRestoreRevertsActiveJobs(t *testing.T) {
	q := newTestQueue(t, 0)
	var ids []string
	for _, name := range []string{"a.stl", "b.stl", "c.stl", "d.stl", "e.stl"} {
		ids = append(ids, enqueueTask(t, q, writeSourceFile(t, name)))
	}
	q.ResumeAll()

	// Two complete, one is mid-flight when the process dies.
	for i := 0; i < 2; i++ {
		job := q.DequeueNext()
		q.MarkCompleted(job.ID(), &models.HandlerResult{})
	}
	q.DequeueNext()

	snap := q.Snapshot()

	restored := newTestQueue(t, 0)
	restored.Restore(snap)

	if restored.State() != models.QueueStopped {
		t.Fatalf("restored queue state = %s, want stopped", restored.State())
	}

	completed, pending := 0, 0
	for _, job := range restored.Jobs() {
		switch job.State {
		case models.JobCompleted:
			completed++
		case models.JobPending:
			pending++
			if job.Progress != 0 || job.StartedAt != nil {
				t.Fatalf("reverted job kept stale execution state: %+v", job)
			}
		default:
			t.Fatalf("unexpected restored state %s", job.State)
		}
	}
	if completed != 2 || pending != 3 {
		t.Fatalf("restored completed=%d pending=%d, want 2 and 3", completed, pending)
	}

	// Restored order matches the original sequence.
	for i, job := range restored.Jobs() {
		if job.ID() != ids[i] {
			t.Fatalf("restored order differs at %d: %s, want %s", i, job.ID(), ids[i])
		}
	}
}

func TestRestoreIgnoresPersistedSettings(t *testing.T) {
	logger := arbor.NewLogger()
	svc := events.NewService(logger)
	t.Cleanup(func() { svc.Close() })
	donor := New(logger, svc, Settings{MaxWorkers: 8, MaxRetries: 9})
	source := writeSourceFile(t, "a.stl")
	enqueueTask(t, donor, source)
	snap := donor.Snapshot()

	q := newTestQueue(t, 0)
	q.Restore(snap)

	if got := q.Snapshot().Settings; got.MaxWorkers != 1 || got.MaxRetries != 0 {
		t.Fatalf("restore applied persisted settings: %+v", got)
	}

	// The retry bound follows the configured settings, not the snapshot.
	q.ResumeAll()
	job := q.DequeueNext()
	q.MarkFailed(job.ID(), models.NewTransientError("hiccup"))
	got, err := q.Get(job.ID())
	if err != nil {
		t.Fatalf("get after failure: %v", err)
	}
	if got.State != models.JobFailed {
		t.Fatalf("state after transient failure = %s, want failed", got.State)
	}
}

func TestRemovePendingJobWakesWorkers(t *testing.T) {
	q := newTestQueue(t, 0)
	id := enqueueTask(t, q, writeSourceFile(t, "a.stl"))

	// Drain the enqueue signal so the observation below is clean.
	select {
	case <-q.Wake():
	default:
	}

	if err := q.Remove(id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	select {
	case <-q.Wake():
	default:
		t.Fatal("removing a pending job did not wake workers")
	}
}

func TestProgressIsMonotonicWhileRunning(t *testing.T) {
	q := newTestQueue(t, 0)
	id := enqueueTask(t, q, writeSourceFile(t, "a.stl"))
	q.ResumeAll()
	q.DequeueNext()

	q.UpdateProgress(id, 0.5, "halfway")
	q.UpdateProgress(id, 0.3, "stale report")
	got, _ := q.Get(id)
	if got.Progress != 0.5 {
		t.Fatalf("progress regressed to %f", got.Progress)
	}

	// Full progress is reserved for completion.
	q.UpdateProgress(id, 1.0, "")
	got, _ = q.Get(id)
	if got.Progress >= 1.0 {
		t.Fatalf("running job reached progress %f", got.Progress)
	}

	q.MarkCompleted(id, &models.HandlerResult{})
	got, _ = q.Get(id)
	if got.Progress != 1.0 {
		t.Fatalf("completed job progress = %f, want 1.0", got.Progress)
	}
}
