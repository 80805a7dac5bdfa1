// -----------------------------------------------------------------------
// Task Descriptor - Immutable description of one file-processing request
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskKind identifies the processing operation requested for a source file.
type TaskKind string

const (
	TaskAnalyze   TaskKind = "analyze"
	TaskValidate  TaskKind = "validate"
	TaskRender    TaskKind = "render"
	TaskComposite TaskKind = "composite"
)

// AllTaskKinds lists every dispatchable task kind. Handler registries use
// this for construction-time exhaustiveness checks.
var AllTaskKinds = []TaskKind{TaskAnalyze, TaskValidate, TaskRender, TaskComposite}

// ParseTaskKind converts a string to a TaskKind, rejecting unknown values.
func ParseTaskKind(s string) (TaskKind, error) {
	kind := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range AllTaskKinds {
		if kind == k {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown task kind: %q", s)
}

// MaterialType selects the surface material for rendering.
type MaterialType string

const (
	MaterialPlastic MaterialType = "plastic"
	MaterialMetal   MaterialType = "metal"
	MaterialResin   MaterialType = "resin"
	MaterialCeramic MaterialType = "ceramic"
	MaterialWood    MaterialType = "wood"
	MaterialGlass   MaterialType = "glass"
)

// LightingPreset selects the lighting setup for rendering.
type LightingPreset string

const (
	LightingStudio   LightingPreset = "studio"
	LightingNatural  LightingPreset = "natural"
	LightingDramatic LightingPreset = "dramatic"
	LightingSoft     LightingPreset = "soft"
)

// RenderQuality selects the render quality level.
type RenderQuality string

const (
	QualityDraft    RenderQuality = "draft"
	QualityStandard RenderQuality = "standard"
	QualityHigh     RenderQuality = "high"
	QualityUltra    RenderQuality = "ultra"
)

// ValidationLevel selects mesh validation strictness.
type ValidationLevel string

const (
	ValidationBasic    ValidationLevel = "basic"
	ValidationStandard ValidationLevel = "standard"
	ValidationStrict   ValidationLevel = "strict"
)

// RenderOptions configures rendering operations.
type RenderOptions struct {
	GenerateImage     bool `json:"generate_image" toml:"generate_image" yaml:"generate_image"`
	GenerateSizeChart bool `json:"generate_size_chart" toml:"generate_size_chart" yaml:"generate_size_chart"`
	GenerateVideo     bool `json:"generate_video" toml:"generate_video" yaml:"generate_video"`

	Width    int            `json:"width" toml:"width" yaml:"width" validate:"min=16,max=16384"`
	Height   int            `json:"height" toml:"height" yaml:"height" validate:"min=16,max=16384"`
	Material MaterialType   `json:"material" toml:"material" yaml:"material" validate:"oneof=plastic metal resin ceramic wood glass"`
	Lighting LightingPreset `json:"lighting" toml:"lighting" yaml:"lighting" validate:"oneof=studio natural dramatic soft"`
	Quality  RenderQuality  `json:"quality" toml:"quality" yaml:"quality" validate:"oneof=draft standard high ultra"`

	VideoDuration float64 `json:"video_duration" toml:"video_duration" yaml:"video_duration" validate:"min=0"`
	VideoFPS      int     `json:"video_fps" toml:"video_fps" yaml:"video_fps" validate:"min=0,max=120"`
}

// DefaultRenderOptions returns render options matching the tool defaults.
func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{
		GenerateImage:     true,
		GenerateSizeChart: true,
		Width:             1920,
		Height:            1080,
		Material:          MaterialPlastic,
		Lighting:          LightingStudio,
		Quality:           QualityStandard,
		VideoDuration:     10.0,
		VideoFPS:          30,
	}
}

// ValidationOptions configures mesh validation operations.
type ValidationOptions struct {
	Level          ValidationLevel `json:"level" toml:"level" yaml:"level" validate:"oneof=basic standard strict"`
	AutoRepair     bool            `json:"auto_repair" toml:"auto_repair" yaml:"auto_repair"`
	GenerateReport bool            `json:"generate_report" toml:"generate_report" yaml:"generate_report"`
}

// DefaultValidationOptions returns validation options matching the tool defaults.
func DefaultValidationOptions() *ValidationOptions {
	return &ValidationOptions{
		Level:          ValidationStandard,
		AutoRepair:     true,
		GenerateReport: true,
	}
}

// AnalysisOptions configures analysis operations.
type AnalysisOptions struct {
	GenerateReport      bool   `json:"generate_report" toml:"generate_report" yaml:"generate_report"`
	ReportFormat        string `json:"report_format" toml:"report_format" yaml:"report_format" validate:"oneof=json text"`
	IncludeDimensions   bool   `json:"include_dimensions" toml:"include_dimensions" yaml:"include_dimensions"`
	IncludePrintability bool   `json:"include_printability" toml:"include_printability" yaml:"include_printability"`
	IncludeMeshQuality  bool   `json:"include_mesh_quality" toml:"include_mesh_quality" yaml:"include_mesh_quality"`
}

// DefaultAnalysisOptions returns analysis options matching the tool defaults.
func DefaultAnalysisOptions() *AnalysisOptions {
	return &AnalysisOptions{
		GenerateReport:      true,
		ReportFormat:        "json",
		IncludeDimensions:   true,
		IncludePrintability: true,
		IncludeMeshQuality:  true,
	}
}

// TaskDescriptor is the immutable description of one unit of work.
// Once created and enqueued it is never modified; the owning Job tracks
// all mutable execution state.
type TaskDescriptor struct {
	ID         string   `json:"id" validate:"required"`
	SourcePath string   `json:"source_path" validate:"required"`
	OutputDir  string   `json:"output_dir" validate:"required"`
	Kind       TaskKind `json:"kind" validate:"required,oneof=analyze validate render composite"`

	// Kind-specific options; only the options matching Kind are consulted.
	Render     *RenderOptions     `json:"render_options,omitempty"`
	Validation *ValidationOptions `json:"validation_options,omitempty"`
	Analysis   *AnalysisOptions   `json:"analysis_options,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

var taskValidator = validator.New()

// Validate checks structural constraints and option coherence at enqueue time.
func (t *TaskDescriptor) Validate() error {
	if err := taskValidator.Struct(t); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	switch t.Kind {
	case TaskRender:
		if t.Render == nil {
			return fmt.Errorf("invalid task %s: render options are required for render tasks", t.ID)
		}
	case TaskValidate:
		if t.Validation == nil {
			return fmt.Errorf("invalid task %s: validation options are required for validate tasks", t.ID)
		}
	case TaskAnalyze:
		if t.Analysis == nil {
			return fmt.Errorf("invalid task %s: analysis options are required for analyze tasks", t.ID)
		}
	case TaskComposite:
		if t.Validation == nil || t.Analysis == nil {
			return fmt.Errorf("invalid task %s: composite tasks require validation and analysis options", t.ID)
		}
	}
	return nil
}

// SourceStem returns the source filename without directory or extension.
func (t *TaskDescriptor) SourceStem() string {
	base := filepath.Base(t.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputSubdir returns the per-source-file output directory for this task.
// Layout contract: <output_dir>/<source_file_stem>/...
func (t *TaskDescriptor) OutputSubdir() string {
	return filepath.Join(t.OutputDir, t.SourceStem())
}

// Clone returns a deep copy of the descriptor.
func (t *TaskDescriptor) Clone() *TaskDescriptor {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Render != nil {
		r := *t.Render
		clone.Render = &r
	}
	if t.Validation != nil {
		v := *t.Validation
		clone.Validation = &v
	}
	if t.Analysis != nil {
		a := *t.Analysis
		clone.Analysis = &a
	}
	return &clone
}
