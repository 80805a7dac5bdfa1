package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/stl"
)

// ValidateHandler runs mesh validation with optional auto-repair. A
// mesh that fails validation still produces a Completed job; the
// findings travel in the result. Only an unreadable source file is a
// job-level failure.
type ValidateHandler struct {
	logger arbor.ILogger
}

func NewValidateHandler(logger arbor.ILogger) *ValidateHandler {
	return &ValidateHandler{logger: logger}
}

func (h *ValidateHandler) Kind() models.TaskKind {
	return models.TaskValidate
}

func (h *ValidateHandler) Execute(ctx context.Context, task *models.TaskDescriptor, report interfaces.ProgressFunc) (*models.HandlerResult, error) {
	opts := task.Validation
	if opts == nil {
		opts = models.DefaultValidationOptions()
	}

	report(0.1, "loading mesh")
	mesh, err := stl.Load(task.SourcePath)
	if err != nil {
		return nil, models.NewValidationError("cannot load %s: %v", task.SourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(0.4, "validating mesh")
	rep := stl.Validate(mesh, opts.Level, opts.AutoRepair)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &models.HandlerResult{
		ValidationPassed: rep.Passed,
		Details: map[string]interface{}{
			"level":          string(rep.Level),
			"issue_count":    len(rep.Issues),
			"repaired_count": rep.RepairedCount,
			"triangle_count": rep.TriangleCount,
		},
	}
	for _, issue := range rep.Issues {
		if issue.Severity == "warning" {
			result.Warnings = append(result.Warnings, issue.Message)
		}
	}

	if opts.GenerateReport {
		report(0.85, "writing validation report")
		path := filepath.Join(task.OutputSubdir(), task.SourceStem()+"_validation.json")
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, models.NewHandlerError("cannot encode validation report: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, models.NewTransientError("cannot write validation report: %v", err)
		}
		result.OutputFiles = append(result.OutputFiles, path)
	}

	report(0.99, "validation done")
	return result, nil
}
