package models

import (
	"time"

	"github.com/google/uuid"
)

// NewTaskID generates a unique task ID with a kind prefix.
// Format: <kind>_<uuid>
func NewTaskID(kind TaskKind) string {
	return string(kind) + "_" + uuid.New().String()
}

// NewTask creates a TaskDescriptor with default options for the given kind.
func NewTask(kind TaskKind, sourcePath, outputDir string) *TaskDescriptor {
	t := &TaskDescriptor{
		ID:         NewTaskID(kind),
		SourcePath: sourcePath,
		OutputDir:  outputDir,
		Kind:       kind,
		CreatedAt:  time.Now(),
	}
	switch kind {
	case TaskRender:
		t.Render = DefaultRenderOptions()
	case TaskValidate:
		t.Validation = DefaultValidationOptions()
	case TaskAnalyze:
		t.Analysis = DefaultAnalysisOptions()
	case TaskComposite:
		t.Render = DefaultRenderOptions()
		t.Validation = DefaultValidationOptions()
		t.Analysis = DefaultAnalysisOptions()
	}
	return t
}
