// Package manifest loads batch task definitions from TOML or YAML
// files, so large batches can be described declaratively instead of
// through scan flags.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
	"gopkg.in/yaml.v3"
)

// Entry is one task definition in a manifest file. Omitted options
// fall back to the kind's defaults; an omitted output directory falls
// back to the batch default.
type Entry struct {
	Source    string `toml:"source" yaml:"source"`
	Kind      string `toml:"kind" yaml:"kind"`
	OutputDir string `toml:"output_dir" yaml:"output_dir"`

	Render     *models.RenderOptions     `toml:"render" yaml:"render"`
	Validation *models.ValidationOptions `toml:"validation" yaml:"validation"`
	Analysis   *models.AnalysisOptions   `toml:"analysis" yaml:"analysis"`
}

// Manifest is the top-level document shape.
type Manifest struct {
	Tasks []Entry `toml:"tasks" yaml:"tasks"`
}

// Load parses a manifest file and converts its entries into task
// descriptors. The format is chosen by extension: .toml, .yaml or .yml.
func Load(logger arbor.ILogger, path, defaultOutputDir string) ([]*models.TaskDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("cannot parse manifest %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("cannot parse manifest %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Ext(path))
	}

	if len(m.Tasks) == 0 {
		return nil, fmt.Errorf("manifest %s defines no tasks", path)
	}

	baseDir := filepath.Dir(path)
	tasks := make([]*models.TaskDescriptor, 0, len(m.Tasks))
	for i, entry := range m.Tasks {
		task, err := entry.toTask(baseDir, defaultOutputDir)
		if err != nil {
			return nil, fmt.Errorf("manifest %s, task %d: %w", path, i+1, err)
		}
		tasks = append(tasks, task)
	}

	logger.Info().
		Str("manifest", path).
		Int("tasks", len(tasks)).
		Msg("Manifest loaded")
	return tasks, nil
}

func (e Entry) toTask(baseDir, defaultOutputDir string) (*models.TaskDescriptor, error) {
	if e.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	kind, err := models.ParseTaskKind(e.Kind)
	if err != nil {
		return nil, err
	}

	source := e.Source
	if !filepath.IsAbs(source) {
		// Relative sources resolve against the manifest's directory.
		source = filepath.Join(baseDir, source)
	}
	outputDir := e.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	task := models.NewTask(kind, source, outputDir)
	if e.Render != nil {
		r := *e.Render
		task.Render = &r
	}
	if e.Validation != nil {
		v := *e.Validation
		task.Validation = &v
	}
	if e.Analysis != nil {
		a := *e.Analysis
		task.Analysis = &a
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}
