package handlers

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
)

// CompositeHandler runs validation, analysis, and optionally rendering
// for one source file in sequence, merging the results. Ordering
// matters: validation first, so analysis and rendering run against a
// repaired mesh report context.
type CompositeHandler struct {
	logger   arbor.ILogger
	validate *ValidateHandler
	analyze  *AnalyzeHandler
	render   *RenderHandler
}

func NewCompositeHandler(logger arbor.ILogger) *CompositeHandler {
	return &CompositeHandler{
		logger:   logger,
		validate: NewValidateHandler(logger),
		analyze:  NewAnalyzeHandler(logger),
		render:   NewRenderHandler(logger),
	}
}

func (h *CompositeHandler) Kind() models.TaskKind {
	return models.TaskComposite
}

func (h *CompositeHandler) Execute(ctx context.Context, task *models.TaskDescriptor, report interfaces.ProgressFunc) (*models.HandlerResult, error) {
	stages := []struct {
		name    string
		handler interfaces.Handler
		enabled bool
		from    float64
		to      float64
	}{
		{"validate", h.validate, true, 0.0, 0.3},
		{"analyze", h.analyze, true, 0.3, 0.6},
		{"render", h.render, task.Render != nil, 0.6, 1.0},
	}

	merged := &models.HandlerResult{
		ValidationPassed: true,
		Details:          make(map[string]interface{}),
	}

	for _, stage := range stages {
		if !stage.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		from, span := stage.from, stage.to-stage.from
		scaled := func(p float64, msg string) {
			report(from+p*span, stage.name+": "+msg)
		}

		result, err := stage.handler.Execute(ctx, task, scaled)
		if err != nil {
			return nil, err
		}

		merged.OutputFiles = append(merged.OutputFiles, result.OutputFiles...)
		merged.Warnings = append(merged.Warnings, result.Warnings...)
		if !result.ValidationPassed {
			merged.ValidationPassed = false
		}
		for k, v := range result.Details {
			merged.Details[stage.name+"_"+k] = v
		}
	}

	report(0.99, "composite done")
	return merged, nil
}
