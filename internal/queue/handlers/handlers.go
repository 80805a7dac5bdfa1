package handlers

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
)

// All returns one handler instance per task kind, ready for registry
// registration.
func All(logger arbor.ILogger) []interfaces.Handler {
	return []interfaces.Handler{
		NewAnalyzeHandler(logger),
		NewValidateHandler(logger),
		NewRenderHandler(logger),
		NewCompositeHandler(logger),
	}
}
