package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

// Summary is the aggregate progress view derived from the live queue.
// It is recomputed on demand and never stored.
type Summary struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`

	// OverallFraction averages per-job progress across all jobs, with
	// terminal jobs counting as fully processed.
	OverallFraction float64 `json:"overall_fraction"`

	// ETA estimates remaining wall time from the average duration of
	// completed jobs divided across workers. Zero until at least one
	// job has completed.
	ETA time.Duration `json:"eta"`

	QueueState models.QueueState `json:"queue_state"`
}

// Tracker derives progress summaries from the queue and publishes them
// on a fixed tick while work is in flight.
type Tracker struct {
	queue    *Queue
	events   interfaces.EventService
	logger   arbor.ILogger
	workers  int
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(logger arbor.ILogger, q *Queue, events interfaces.EventService, workers int, interval time.Duration) *Tracker {
	if workers < 1 {
		workers = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		queue:    q,
		events:   events,
		logger:   logger,
		workers:  workers,
		interval: interval,
	}
}

// Summary computes the current aggregate view in one pass over the
// queue.
func (t *Tracker) Summary() Summary {
	stats := t.queue.Stats()

	s := Summary{
		Pending:    stats.Pending,
		Running:    stats.Running,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Skipped:    stats.Skipped,
		Cancelled:  stats.Cancelled,
		Total:      stats.Total,
		QueueState: t.queue.State(),
	}
	if stats.Total > 0 {
		s.OverallFraction = stats.ProgressSum / float64(stats.Total)
	}
	if stats.Completed > 0 {
		avg := stats.CompletedSeconds / float64(stats.Completed)
		remaining := float64(stats.Pending) + float64(stats.Running)*0.5
		s.ETA = time.Duration(avg * remaining / float64(t.workers) * float64(time.Second))
	}
	return s
}

// Start begins periodic summary publication.
func (t *Tracker) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	common.SafeGo(t.logger, "progress-tracker", func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.publish()
			}
		}
	})
}

// Stop halts publication after emitting one final summary.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.publish()
}

func (t *Tracker) publish() {
	t.events.Publish(context.Background(), models.Event{
		Type:      models.EventQueueSummary,
		Timestamp: time.Now(),
		Payload:   t.Summary(),
	})
}
