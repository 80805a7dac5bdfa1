package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

const workerStaggerDelay = 100 * time.Millisecond

// Executor drains the queue with a bounded pool of workers. Each worker
// runs one handler invocation at a time; queue consistency never
// depends on handler behavior.
type Executor struct {
	queue    *Queue
	registry *HandlerRegistry
	jobLogs  interfaces.JobLogStorage
	logger   arbor.ILogger

	workers int
	poll    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor creates an executor. jobLogs may be nil when log
// persistence is disabled.
func NewExecutor(logger arbor.ILogger, q *Queue, registry *HandlerRegistry, jobLogs interfaces.JobLogStorage, workers int, poll time.Duration) *Executor {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Executor{
		queue:    q,
		registry: registry,
		jobLogs:  jobLogs,
		logger:   logger,
		workers:  workers,
		poll:     poll,
	}
}

// Start verifies handler coverage and launches the worker pool.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.registry.Complete(); err != nil {
		return err
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.logger.Info().
		Int("workers", e.workers).
		Dur("poll_interval", e.poll).
		Msg("Starting executor")

	for i := 0; i < e.workers; i++ {
		id := i
		e.wg.Add(1)
		common.SafeGo(e.logger, fmt.Sprintf("worker-%d", id), func() {
			defer e.wg.Done()
			// Stagger startup so workers do not stampede the queue.
			select {
			case <-time.After(time.Duration(id) * workerStaggerDelay):
			case <-e.ctx.Done():
				return
			}
			e.workerLoop(id)
		})
	}
	return nil
}

// Stop halts dequeuing and waits for in-flight handlers to observe
// cancellation and return.
func (e *Executor) Stop() {
	if e.cancel == nil {
		return
	}
	e.queue.StopAll()
	e.cancel()
	e.wg.Wait()
	e.logger.Info().Msg("Executor stopped")
}

// Wait blocks until all workers have exited.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) workerLoop(id int) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		e.drain(id)

		select {
		case <-e.ctx.Done():
			return
		case <-e.queue.Wake():
		case <-ticker.C:
		}
	}
}

// drain pulls and runs jobs until the queue has nothing eligible.
func (e *Executor) drain(workerID int) {
	for {
		if e.ctx.Err() != nil {
			return
		}
		job := e.queue.DequeueNext()
		if job == nil {
			return
		}
		e.runJob(workerID, job)
	}
}

func (e *Executor) runJob(workerID int, job *models.Job) {
	jobID := job.ID()
	task := job.Task
	log := e.logger.WithCorrelationId(jobID)

	jobCtx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	e.queue.BindCancel(jobID, cancel)

	handler, err := e.registry.Resolve(task.Kind)
	if err != nil {
		e.queue.MarkFailed(jobID, models.NewHandlerError("%v", err))
		return
	}

	outputDir := task.OutputSubdir()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		e.queue.MarkFailed(jobID, models.NewTransientError("cannot create output directory %s: %v", outputDir, err))
		return
	}

	log.Info().
		Int("worker", workerID).
		Str("kind", string(task.Kind)).
		Str("source", task.SourcePath).
		Int("attempt", job.AttemptCount).
		Msg("Running job")
	e.appendJobLog(jobID, "info", fmt.Sprintf("attempt %d started (%s)", job.AttemptCount, task.Kind))

	report := func(progress float64, message string) {
		e.queue.UpdateProgress(jobID, progress, message)
	}

	start := time.Now()
	result, handlerErr := e.invoke(jobCtx, handler, task, report)

	if jobCtx.Err() != nil {
		// Cancelled mid-flight. Any result is discarded and partial
		// outputs are cleaned up best-effort.
		e.cleanupPartialOutputs(log, outputDir, result)
		e.queue.MarkCancelled(jobID)
		e.appendJobLog(jobID, "warn", "cancelled")
		return
	}

	if handlerErr != nil {
		jobErr := models.ClassifyError(handlerErr)
		e.appendJobLog(jobID, "error", jobErr.Message)
		if jobErr.Kind == models.ErrorValidation {
			e.queue.MarkSkipped(jobID, jobErr)
		} else {
			e.queue.MarkFailed(jobID, jobErr)
		}
		return
	}

	if result == nil {
		result = &models.HandlerResult{}
	}
	result.ProcessingTime = time.Since(start).Seconds()
	e.queue.MarkCompleted(jobID, result)
	e.appendJobLog(jobID, "info", fmt.Sprintf("completed with %d output files", len(result.OutputFiles)))
}

// invoke calls the handler with panic protection. A panicking handler
// becomes a non-retriable failure, never a dead worker.
func (e *Executor) invoke(ctx context.Context, handler interfaces.Handler, task *models.TaskDescriptor, report interfaces.ProgressFunc) (result *models.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = models.NewHandlerError("handler panic: %v", r)
			e.logger.Error().
				Str("task_id", task.ID).
				Str("kind", string(task.Kind)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Handler panicked")
		}
	}()
	return handler.Execute(ctx, task, report)
}

// cleanupPartialOutputs removes artifacts a cancelled handler left
// behind. Failures here are logged and ignored.
func (e *Executor) cleanupPartialOutputs(log arbor.ILogger, outputDir string, result *models.HandlerResult) {
	if result != nil {
		for _, f := range result.OutputFiles {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", f).Msg("Failed to remove partial output")
			}
		}
	}
	// Drop the per-source subdirectory if nothing remains in it.
	if entries, err := os.ReadDir(outputDir); err == nil && len(entries) == 0 {
		_ = os.Remove(outputDir)
	}
}

func (e *Executor) appendJobLog(jobID, level, message string) {
	if e.jobLogs == nil {
		return
	}
	entry := models.JobLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	if err := e.jobLogs.Append(context.Background(), jobID, entry); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist job log entry")
	}
}
