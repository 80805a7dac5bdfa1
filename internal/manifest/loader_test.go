package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
)

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOMLManifest(t *testing.T) {
	path := writeManifest(t, "batch.toml", `
[[tasks]]
source = "models/bracket.stl"
kind = "render"

[tasks.render]
generate_image = true
generate_size_chart = false
width = 800
height = 600
material = "metal"
lighting = "dramatic"
quality = "high"

[[tasks]]
source = "/abs/path/widget.stl"
kind = "validate"
output_dir = "/custom/out"

[tasks.validation]
level = "strict"
auto_repair = false
generate_report = true
`)

	tasks, err := Load(arbor.NewLogger(), path, "/default/out")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(tasks))
	}

	first := tasks[0]
	if first.Kind != models.TaskRender {
		t.Fatalf("kind = %s, want render", first.Kind)
	}
	// Relative sources resolve against the manifest directory.
	wantSource := filepath.Join(filepath.Dir(path), "models/bracket.stl")
	if first.SourcePath != wantSource {
		t.Fatalf("source = %s, want %s", first.SourcePath, wantSource)
	}
	if first.OutputDir != "/default/out" {
		t.Fatalf("output dir = %s, want default", first.OutputDir)
	}
	if first.Render.Material != models.MaterialMetal || first.Render.Width != 800 {
		t.Fatalf("render options not applied: %+v", first.Render)
	}

	second := tasks[1]
	if second.SourcePath != "/abs/path/widget.stl" {
		t.Fatalf("absolute source rewritten: %s", second.SourcePath)
	}
	if second.OutputDir != "/custom/out" {
		t.Fatalf("explicit output dir lost: %s", second.OutputDir)
	}
	if second.Validation.Level != models.ValidationStrict || second.Validation.AutoRepair {
		t.Fatalf("validation options not applied: %+v", second.Validation)
	}
}

func TestLoadYAMLManifest(t *testing.T) {
	path := writeManifest(t, "batch.yaml", `
tasks:
  - source: part.stl
    kind: analyze
    analysis:
      generate_report: true
      report_format: text
      include_dimensions: true
      include_printability: false
      include_mesh_quality: true
`)

	tasks, err := Load(arbor.NewLogger(), path, "/out")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("loaded %d tasks, want 1", len(tasks))
	}
	if tasks[0].Kind != models.TaskAnalyze {
		t.Fatalf("kind = %s, want analyze", tasks[0].Kind)
	}
	if tasks[0].Analysis.ReportFormat != "text" || tasks[0].Analysis.IncludePrintability {
		t.Fatalf("analysis options not applied: %+v", tasks[0].Analysis)
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	cases := map[string]struct {
		name    string
		content string
	}{
		"unknown kind":   {"bad.toml", "[[tasks]]\nsource = \"a.stl\"\nkind = \"transmogrify\"\n"},
		"missing source": {"bad.toml", "[[tasks]]\nkind = \"analyze\"\n"},
		"no tasks":       {"empty.toml", "# nothing here\n"},
		"bad extension":  {"batch.ini", "[[tasks]]\n"},
		"invalid syntax": {"broken.yaml", "tasks: [unclosed\n"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeManifest(t, tc.name, tc.content)
			if _, err := Load(arbor.NewLogger(), path, "/out"); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestUnspecifiedOptionsFallBackToDefaults(t *testing.T) {
	path := writeManifest(t, "batch.toml", `
[[tasks]]
source = "part.stl"
kind = "composite"
`)

	tasks, err := Load(arbor.NewLogger(), path, "/out")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	task := tasks[0]
	if task.Render == nil || task.Validation == nil || task.Analysis == nil {
		t.Fatalf("composite defaults missing: %+v", task)
	}
	if task.Render.Width != 1920 || task.Validation.Level != models.ValidationStandard {
		t.Fatalf("defaults not applied: %+v %+v", task.Render, task.Validation)
	}
}
