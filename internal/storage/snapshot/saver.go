package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
	"golang.org/x/time/rate"
)

// Saver coalesces snapshot writes. Every queue mutation marks the saver
// dirty; the background loop rate-limits actual disk writes so rapid job
// completion does not thrash I/O. Snapshot copies are taken by the source
// function outside any store lock, and persistence failures are logged,
// never propagated - in-memory state stays authoritative until the next
// successful save.
type Saver struct {
	store   interfaces.SnapshotStore
	source  func() *models.Snapshot
	limiter *rate.Limiter
	dirty   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  arbor.ILogger
}

// NewSaver creates a debounced saver. minInterval is the minimum spacing
// between coalesced writes; source must return a consistent deep copy.
func NewSaver(store interfaces.SnapshotStore, source func() *models.Snapshot, minInterval time.Duration, logger arbor.ILogger) *Saver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Saver{
		store:   store,
		source:  source,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		dirty:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start launches the background save loop.
func (s *Saver) Start() {
	s.wg.Add(1)
	common.SafeGo(s.logger, "snapshot-saver", s.loop)
}

// MarkDirty requests a save. Multiple requests between writes coalesce
// into one. Never blocks; safe to call while holding the queue lock.
func (s *Saver) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Flush performs an immediate synchronous save, bypassing the rate limit.
// Used at shutdown and after restore.
func (s *Saver) Flush() error {
	return s.store.Save(s.source())
}

// Stop flushes outstanding state and stops the background loop.
func (s *Saver) Stop() {
	s.cancel()
	s.wg.Wait()
	if err := s.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("Final snapshot flush failed; queue state may be stale on disk")
	}
}

func (s *Saver) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.dirty:
		}

		if err := s.limiter.Wait(s.ctx); err != nil {
			// Shutting down; Stop() flushes the outstanding state.
			return
		}

		if err := s.store.Save(s.source()); err != nil {
			s.logger.Error().Err(err).Msg("Snapshot save failed; in-memory state remains authoritative")
		}
	}
}
