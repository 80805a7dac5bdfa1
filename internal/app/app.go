// Package app wires the application components together: storage,
// queue, executor, tracker, scanner and scheduler.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/queue"
	"github.com/ternarybob/meshbatch/internal/queue/handlers"
	"github.com/ternarybob/meshbatch/internal/scanner"
	"github.com/ternarybob/meshbatch/internal/services/events"
	"github.com/ternarybob/meshbatch/internal/services/scheduler"
	badgerstore "github.com/ternarybob/meshbatch/internal/storage/badger"
	"github.com/ternarybob/meshbatch/internal/storage/snapshot"
)

// App holds the wired component graph.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Events    *events.Service
	Queue     *queue.Queue
	Executor  *queue.Executor
	Tracker   *queue.Tracker
	Scanner   *scanner.Scanner
	Scheduler *scheduler.Service

	saver   *snapshot.Saver
	store   *snapshot.Store
	db      *badgerstore.BadgerDB
	jobLogs *badgerstore.JobLogStorage
}

// New builds the component graph and restores any persisted queue
// state. A failed snapshot load degrades to an empty queue; it is
// never fatal.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("job log storage: %w", err)
	}
	a.db = db
	a.jobLogs = badgerstore.NewJobLogStorage(db, logger)

	store, err := snapshot.NewStore(config.Storage.StateFile, config.Storage.MaxBackups, logger)
	if err != nil {
		a.db.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	a.store = store

	a.Events = events.NewService(logger)
	a.Queue = queue.New(logger, a.Events, queue.Settings{
		MaxWorkers: config.Queue.MaxWorkers,
		MaxRetries: config.Queue.MaxRetries,
	})

	if snap, err := store.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load queue snapshot, starting empty")
	} else if snap != nil {
		a.Queue.Restore(snap)
	}

	a.saver = snapshot.NewSaver(store, a.Queue.Snapshot, config.Storage.SaveIntervalDuration(), logger)
	a.Queue.SetOnMutate(a.saver.MarkDirty)

	registry := queue.NewHandlerRegistry()
	for _, h := range handlers.All(logger) {
		if err := registry.Register(h); err != nil {
			a.db.Close()
			return nil, err
		}
	}

	a.Executor = queue.NewExecutor(logger, a.Queue, registry, a.jobLogs,
		config.Queue.MaxWorkers, config.Queue.PollIntervalDuration())
	a.Tracker = queue.NewTracker(logger, a.Queue, a.Events,
		config.Queue.MaxWorkers, config.Queue.PollIntervalDuration())
	a.Scanner = scanner.New(logger, config.Scanner.Extensions)

	if config.Scheduler.Enabled {
		kind, err := models.ParseTaskKind(config.Scheduler.TaskKind)
		if err != nil {
			a.db.Close()
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		a.Scheduler = scheduler.NewService(logger, a.Queue, a.Scanner,
			config.Scheduler.WatchDirs, kind, config.Output.Directory, config.Scanner.Recursive)
	}

	return a, nil
}

// Start resumes the queue and launches the executor, tracker, saver
// and, when configured, the scheduler.
func (a *App) Start(ctx context.Context) error {
	a.saver.Start()
	a.Queue.ResumeAll()

	if err := a.Executor.Start(ctx); err != nil {
		return err
	}
	a.Tracker.Start(ctx)

	if a.Scheduler != nil {
		if err := a.Scheduler.Start(a.Config.Scheduler.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts components down in reverse dependency order, flushing a
// final snapshot before storage closes.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.Executor.Stop()
	a.Tracker.Stop()
	a.saver.Stop()
	a.Events.Close()
	if err := a.db.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close job log storage")
	}
}
