// Package handlers contains the built-in job handlers, one per task
// kind. Handlers are synchronous and cooperate with cancellation by
// checking the context between units of work.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/stl"
)

// AnalyzeHandler measures mesh geometry and writes an analysis report.
type AnalyzeHandler struct {
	logger arbor.ILogger
}

func NewAnalyzeHandler(logger arbor.ILogger) *AnalyzeHandler {
	return &AnalyzeHandler{logger: logger}
}

func (h *AnalyzeHandler) Kind() models.TaskKind {
	return models.TaskAnalyze
}

// analysisReport is written to disk as the report artifact.
type analysisReport struct {
	SourceFile    string            `json:"source_file"`
	Format        string            `json:"format"` // "binary" or "ascii"
	Dimensions    *stl.Dimensions   `json:"dimensions,omitempty"`
	Printability  *stl.Printability `json:"printability,omitempty"`
	MeshQuality   *stl.Report       `json:"mesh_quality,omitempty"`
}

func (h *AnalyzeHandler) Execute(ctx context.Context, task *models.TaskDescriptor, report interfaces.ProgressFunc) (*models.HandlerResult, error) {
	opts := task.Analysis
	if opts == nil {
		opts = models.DefaultAnalysisOptions()
	}

	report(0.05, "loading mesh")
	mesh, err := stl.Load(task.SourcePath)
	if err != nil {
		return nil, models.NewValidationError("cannot load %s: %v", task.SourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := "ascii"
	if mesh.Binary {
		format = "binary"
	}
	out := analysisReport{SourceFile: task.SourcePath, Format: format}
	result := &models.HandlerResult{
		ValidationPassed: true,
		Details: map[string]interface{}{
			"triangle_count": len(mesh.Triangles),
			"format":         format,
		},
	}

	if opts.IncludeDimensions || opts.IncludePrintability {
		report(0.35, "measuring geometry")
		dims := stl.Measure(mesh)
		if opts.IncludeDimensions {
			out.Dimensions = &dims
			result.Details["size_mm"] = dims.Size
			result.Details["volume_mm3"] = dims.Volume
		}
		if opts.IncludePrintability {
			p := stl.AssessPrintability(dims)
			out.Printability = &p
			result.Warnings = append(result.Warnings, p.Notes...)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.IncludeMeshQuality {
		report(0.65, "checking mesh quality")
		out.MeshQuality = stl.Validate(mesh, models.ValidationStandard, false)
		result.Details["mesh_issues"] = len(out.MeshQuality.Issues)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.GenerateReport {
		report(0.9, "writing report")
		path, err := writeAnalysisReport(task.OutputSubdir(), task.SourceStem(), opts.ReportFormat, &out)
		if err != nil {
			return nil, models.NewTransientError("cannot write analysis report: %v", err)
		}
		result.OutputFiles = append(result.OutputFiles, path)
	}

	report(0.99, "analysis done")
	return result, nil
}

func writeAnalysisReport(dir, stem, format string, rep *analysisReport) (string, error) {
	if format == "text" {
		path := filepath.Join(dir, stem+"_analysis.txt")
		return path, os.WriteFile(path, []byte(formatTextReport(rep)), 0644)
	}

	path := filepath.Join(dir, stem+"_analysis.json")
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0644)
}

func formatTextReport(rep *analysisReport) string {
	s := fmt.Sprintf("STL Analysis Report\n===================\n\nSource: %s\nFormat: %s\n", rep.SourceFile, rep.Format)
	if d := rep.Dimensions; d != nil {
		s += fmt.Sprintf("\nDimensions (mm): %.2f x %.2f x %.2f\nSurface area: %.2f mm2\nVolume: %.2f mm3\nTriangles: %d\n",
			d.Size[0], d.Size[1], d.Size[2], d.SurfaceArea, d.Volume, d.TriangleCount)
	}
	if p := rep.Printability; p != nil {
		s += fmt.Sprintf("\nFits 220x220x250mm bed: %v\n", p.FitsCommonBed)
		for _, n := range p.Notes {
			s += "  - " + n + "\n"
		}
	}
	if q := rep.MeshQuality; q != nil {
		s += fmt.Sprintf("\nMesh quality (%s): passed=%v, issues=%d, repaired=%d\n",
			q.Level, q.Passed, len(q.Issues), q.RepairedCount)
		for _, issue := range q.Issues {
			s += fmt.Sprintf("  [%s] %s: %s\n", issue.Severity, issue.Code, issue.Message)
		}
	}
	return s
}
