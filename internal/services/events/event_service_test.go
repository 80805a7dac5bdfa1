package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	got := 0
	for i := 0; i < 3; i++ {
		svc.Subscribe(models.EventJobStateChanged, func(ctx context.Context, event models.Event) {
			mu.Lock()
			got++
			mu.Unlock()
		})
	}

	svc.PublishSync(context.Background(), models.Event{
		Type:      models.EventJobStateChanged,
		Timestamp: time.Now(),
		Payload:   models.JobStateChange{JobID: "job-1"},
	})

	mu.Lock()
	defer mu.Unlock()
	if got != 3 {
		t.Fatalf("delivered to %d subscribers, want 3", got)
	}
}

func TestSubscribersAreFilteredByType(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	calls := 0
	svc.Subscribe(models.EventQueueStateChanged, func(ctx context.Context, event models.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	svc.PublishSync(context.Background(), models.Event{Type: models.EventJobProgress})
	svc.PublishSync(context.Background(), models.Event{Type: models.EventQueueStateChanged})

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("subscriber called %d times, want 1", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	calls := 0
	id := svc.Subscribe(models.EventJobProgress, func(ctx context.Context, event models.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	svc.PublishSync(context.Background(), models.Event{Type: models.EventJobProgress})
	svc.Unsubscribe(models.EventJobProgress, id)
	svc.PublishSync(context.Background(), models.Event{Type: models.EventJobProgress})

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("subscriber called %d times after unsubscribe, want 1", calls)
	}
}

// A panicking subscriber must never take down the publisher or starve
// other subscribers.
func TestPanickingSubscriberIsIsolated(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	healthyCalls := 0
	svc.Subscribe(models.EventJobStateChanged, func(ctx context.Context, event models.Event) {
		panic("subscriber bug")
	})
	svc.Subscribe(models.EventJobStateChanged, func(ctx context.Context, event models.Event) {
		mu.Lock()
		healthyCalls++
		mu.Unlock()
	})

	svc.PublishSync(context.Background(), models.Event{Type: models.EventJobStateChanged})

	mu.Lock()
	defer mu.Unlock()
	if healthyCalls != 1 {
		t.Fatalf("healthy subscriber called %d times, want 1", healthyCalls)
	}
}

// Observers must see a job's events in the order they were published,
// even when publishing is asynchronous.
func TestEventsDeliverInPublishOrder(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	const count = 500

	var mu sync.Mutex
	var received []int
	svc.Subscribe(models.EventJobProgress, func(ctx context.Context, event models.Event) {
		update := event.Payload.(models.JobProgressUpdate)
		mu.Lock()
		received = append(received, int(update.Progress))
		mu.Unlock()
	})

	for i := 0; i < count; i++ {
		svc.Publish(context.Background(), models.Event{
			Type:    models.EventJobProgress,
			Payload: models.JobProgressUpdate{JobID: "job-1", Progress: float64(i)},
		})
	}
	// Delivery is FIFO per subscriber, so a synchronous publish flushes
	// everything queued before it.
	svc.PublishSync(context.Background(), models.Event{
		Type:    models.EventJobProgress,
		Payload: models.JobProgressUpdate{JobID: "job-1", Progress: float64(count)},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != count+1 {
		t.Fatalf("received %d events, want %d", len(received), count+1)
	}
	for i, v := range received {
		if v != i {
			t.Fatalf("event %d delivered out of order: got sequence %d", i, v)
		}
	}
}

func TestAsyncPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	release := make(chan struct{})
	delivered := make(chan struct{})
	svc.Subscribe(models.EventQueueSummary, func(ctx context.Context, event models.Event) {
		<-release
		close(delivered)
	})

	start := time.Now()
	svc.Publish(context.Background(), models.Event{Type: models.EventQueueSummary})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("async publish blocked for %v", elapsed)
	}

	close(release)
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered asynchronously")
	}
}
