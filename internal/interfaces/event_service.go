package interfaces

import (
	"context"

	"github.com/ternarybob/meshbatch/internal/models"
)

// EventHandler is a function that handles events. Handlers run
// asynchronously relative to the publisher; a slow or panicking handler
// never stalls job execution.
type EventHandler func(ctx context.Context, event models.Event)

// EventService manages the pub/sub event bus between the queue core and
// any presentation layer. It is the only point of contact the core has
// with UI/CLI collaborators.
type EventService interface {
	// Subscribe registers a handler for an event type and returns a
	// subscription id for later removal.
	Subscribe(eventType models.EventType, handler EventHandler) int

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(eventType models.EventType, id int)

	// Publish delivers an event to all subscribers asynchronously.
	Publish(ctx context.Context, event models.Event)

	// PublishSync delivers an event and waits for all handlers to finish.
	PublishSync(ctx context.Context, event models.Event)

	// Close shuts down the event service.
	Close() error
}
