// Package scheduler periodically rescans watch directories and
// enqueues tasks for source files the queue has not seen yet.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/queue"
	"github.com/ternarybob/meshbatch/internal/scanner"
)

// Service drives scheduled rescans via a cron expression.
type Service struct {
	cron      *cron.Cron
	logger    arbor.ILogger
	queue     *queue.Queue
	scanner   *scanner.Scanner
	watchDirs []string
	kind      models.TaskKind
	outputDir string
	recursive bool
}

func NewService(logger arbor.ILogger, q *queue.Queue, sc *scanner.Scanner, watchDirs []string, kind models.TaskKind, outputDir string, recursive bool) *Service {
	return &Service{
		cron:      cron.New(),
		logger:    logger,
		queue:     q,
		scanner:   sc,
		watchDirs: watchDirs,
		kind:      kind,
		outputDir: outputDir,
		recursive: recursive,
	}
}

// Start registers the rescan job and starts the cron runner. One
// initial rescan runs immediately so a fresh watch dir is picked up
// without waiting for the first tick.
func (s *Service) Start(schedule string) error {
	if len(s.watchDirs) == 0 {
		return fmt.Errorf("no watch directories configured")
	}
	if _, err := s.cron.AddFunc(schedule, s.rescan); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.logger.Info().
		Str("schedule", schedule).
		Strs("watch_dirs", s.watchDirs).
		Str("kind", string(s.kind)).
		Msg("Scheduler started")

	s.rescan()
	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for an in-flight rescan.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) rescan() {
	files, err := s.scanner.Scan(s.watchDirs, s.recursive)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled rescan failed")
		return
	}

	enqueued := 0
	for _, file := range files {
		if s.queue.ContainsSource(file) {
			continue
		}
		task := models.NewTask(s.kind, file, s.outputDir)
		if _, err := s.queue.Enqueue(task); err != nil {
			s.logger.Warn().Err(err).Str("source", file).Msg("Failed to enqueue scanned file")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info().
			Int("found", len(files)).
			Int("enqueued", enqueued).
			Msg("Rescan enqueued new files")
	}
}
