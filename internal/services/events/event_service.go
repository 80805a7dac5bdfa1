// Package events implements the pub/sub observer channel between the
// queue core and any presentation layer.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

// subscriberBuffer absorbs publish bursts per subscriber. A subscriber
// that falls further behind applies back-pressure to publishers.
const subscriberBuffer = 256

type delivery struct {
	ctx   context.Context
	event models.Event
	wg    *sync.WaitGroup // non-nil for synchronous publishes
}

// subscription owns one handler and the queue feeding it. A single
// drain goroutine per subscription delivers events FIFO, so each
// subscriber observes events in publish order.
type subscription struct {
	id      int
	handler interfaces.EventHandler
	queue   chan delivery
	done    chan struct{}
}

// Service implements EventService with an in-process pub/sub pattern.
// Delivery is asynchronous relative to the publisher but serialized per
// subscriber: events reach each handler one at a time, in the order
// they were published. A crashing handler is panic-isolated per event
// and never stalls job execution.
type Service struct {
	subscribers map[models.EventType][]*subscription
	nextID      int
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[models.EventType][]*subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type and starts its drain
// goroutine.
func (s *Service) Subscribe(eventType models.EventType, handler interfaces.EventHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &subscription{
		id:      s.nextID,
		handler: handler,
		queue:   make(chan delivery, subscriberBuffer),
		done:    make(chan struct{}),
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	common.SafeGo(s.logger, fmt.Sprintf("eventSubscriber-%d", sub.id), func() {
		s.drain(sub)
	})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return sub.id
}

// Unsubscribe removes a handler and waits for its queued events to
// finish delivering.
func (s *Service) Unsubscribe(eventType models.EventType, id int) {
	s.mu.Lock()
	var removed *subscription
	subs := s.subscribers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			removed = sub
			s.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed == nil {
		return
	}
	// No publisher can reach the subscription anymore; drain to the end.
	close(removed.queue)
	<-removed.done

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Msg("Event handler unsubscribed")
}

// Publish sends an event to all subscribers of its type. The call
// returns once the event is enqueued; delivery happens on each
// subscription's drain goroutine, preserving publish order.
func (s *Service) Publish(ctx context.Context, event models.Event) {
	s.dispatch(ctx, event, nil)
}

// PublishSync sends an event and waits for all handlers to complete.
// Used at shutdown when ordering matters more than decoupling. Because
// each subscription drains FIFO, returning also implies every earlier
// asynchronous event reached those handlers.
func (s *Service) PublishSync(ctx context.Context, event models.Event) {
	var wg sync.WaitGroup
	s.dispatch(ctx, event, &wg)
	wg.Wait()
}

func (s *Service) dispatch(ctx context.Context, event models.Event, wg *sync.WaitGroup) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, sub := range s.subscribers[event.Type] {
		if wg != nil {
			wg.Add(1)
		}
		sub.queue <- delivery{ctx: ctx, event: event, wg: wg}
	}
}

// drain delivers queued events one at a time until the subscription is
// closed.
func (s *Service) drain(sub *subscription) {
	defer close(sub.done)
	for d := range sub.queue {
		s.deliver(sub, d)
	}
}

// deliver invokes the handler with per-event panic isolation so one bad
// event cannot kill the drain loop.
func (s *Service) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Int("subscriber", sub.id).
				Str("event_type", string(d.event.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
		if d.wg != nil {
			d.wg.Done()
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Close shuts down the event service, draining every subscription.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var all []*subscription
	for _, subs := range s.subscribers {
		all = append(all, subs...)
	}
	s.subscribers = make(map[models.EventType][]*subscription)
	s.mu.Unlock()

	for _, sub := range all {
		close(sub.queue)
		<-sub.done
	}

	s.logger.Debug().Msg("Event service closed")
	return nil
}
