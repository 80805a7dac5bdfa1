package queue

import (
	"fmt"

	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

// HandlerRegistry maps task kinds to their handlers. Registration is
// done once at startup, before the executor starts; lookups after that
// are read-only.
type HandlerRegistry struct {
	handlers map[models.TaskKind]interfaces.Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[models.TaskKind]interfaces.Handler),
	}
}

// Register adds a handler for its declared kind. Registering the same
// kind twice is a configuration bug and fails loudly.
func (r *HandlerRegistry) Register(h interfaces.Handler) error {
	kind := h.Kind()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %s", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Resolve returns the handler for a kind.
func (r *HandlerRegistry) Resolve(kind models.TaskKind) (interfaces.Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %s", kind)
	}
	return h, nil
}

// Complete verifies every task kind has a handler. Called at startup so
// a missing registration surfaces before any job runs.
func (r *HandlerRegistry) Complete() error {
	for _, kind := range models.AllTaskKinds {
		if _, ok := r.handlers[kind]; !ok {
			return fmt.Errorf("no handler registered for kind %s", kind)
		}
	}
	return nil
}
