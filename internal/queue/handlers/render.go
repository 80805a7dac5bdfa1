package handlers

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/interfaces"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/stl"
)

// Cap so a misconfigured duration/fps pair cannot flood the output dir.
const maxVideoFrames = 600

// RenderHandler produces visual artifacts for a mesh: a shaded still
// image, a dimensioned size chart (PDF), and a turntable frame sequence
// when video output is requested.
type RenderHandler struct {
	logger arbor.ILogger
}

func NewRenderHandler(logger arbor.ILogger) *RenderHandler {
	return &RenderHandler{logger: logger}
}

func (h *RenderHandler) Kind() models.TaskKind {
	return models.TaskRender
}

func (h *RenderHandler) Execute(ctx context.Context, task *models.TaskDescriptor, report interfaces.ProgressFunc) (*models.HandlerResult, error) {
	opts := task.Render
	if opts == nil {
		opts = models.DefaultRenderOptions()
	}

	report(0.05, "loading mesh")
	mesh, err := stl.Load(task.SourcePath)
	if err != nil {
		return nil, models.NewValidationError("cannot load %s: %v", task.SourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir := task.OutputSubdir()
	stem := task.SourceStem()
	result := &models.HandlerResult{
		ValidationPassed: true,
		Details: map[string]interface{}{
			"material": string(opts.Material),
			"lighting": string(opts.Lighting),
			"quality":  string(opts.Quality),
		},
	}

	view := stl.RenderView{
		Width:    opts.Width,
		Height:   opts.Height,
		Material: opts.Material,
		Lighting: opts.Lighting,
		Quality:  opts.Quality,
	}

	if opts.GenerateImage {
		report(0.15, "rendering image")
		path := filepath.Join(outDir, stem+".png")
		if err := writePNG(path, mesh, view); err != nil {
			return nil, models.NewTransientError("cannot write render image: %v", err)
		}
		result.OutputFiles = append(result.OutputFiles, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.GenerateSizeChart {
		report(0.45, "generating size chart")
		path := filepath.Join(outDir, stem+"_size_chart.pdf")
		if err := writeSizeChart(path, stem, mesh); err != nil {
			return nil, models.NewTransientError("cannot write size chart: %v", err)
		}
		result.OutputFiles = append(result.OutputFiles, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.GenerateVideo {
		frames := int(opts.VideoDuration * float64(opts.VideoFPS))
		if frames > maxVideoFrames {
			frames = maxVideoFrames
		}
		if frames > 0 {
			frameDir := filepath.Join(outDir, "frames")
			if err := os.MkdirAll(frameDir, 0755); err != nil {
				return nil, models.NewTransientError("cannot create frame directory: %v", err)
			}
			written, err := h.renderTurntable(ctx, frameDir, stem, mesh, view, frames, report)
			result.OutputFiles = append(result.OutputFiles, written...)
			if err != nil {
				return nil, err
			}
			result.Details["video_frames"] = frames
		}
	}

	report(0.99, "render done")
	return result, nil
}

// renderTurntable writes one frame per yaw step of a full rotation.
// Cancellation is checked between frames; written paths are returned
// even on error so the caller can clean them up.
func (h *RenderHandler) renderTurntable(ctx context.Context, dir, stem string, mesh *stl.Mesh, view stl.RenderView, frames int, report interfaces.ProgressFunc) ([]string, error) {
	var written []string
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		view.YawDegrees = 360 * float64(i) / float64(frames)
		path := filepath.Join(dir, fmt.Sprintf("%s_%04d.png", stem, i))
		if err := writePNG(path, mesh, view); err != nil {
			return written, models.NewTransientError("cannot write frame %d: %v", i, err)
		}
		written = append(written, path)
		report(0.6+0.35*float64(i+1)/float64(frames), fmt.Sprintf("frame %d/%d", i+1, frames))
	}
	return written, nil
}

func writePNG(path string, mesh *stl.Mesh, view stl.RenderView) error {
	img := stl.RenderImage(mesh, view)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeSizeChart produces a single-page PDF with measured dimensions
// and scaled top/front/side bounding views.
func writeSizeChart(path, name string, mesh *stl.Mesh) error {
	dims := stl.Measure(mesh)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, fmt.Sprintf("Size Chart: %s", name), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Width (X)", fmt.Sprintf("%.2f mm", dims.Size[0])},
		{"Depth (Y)", fmt.Sprintf("%.2f mm", dims.Size[1])},
		{"Height (Z)", fmt.Sprintf("%.2f mm", dims.Size[2])},
		{"Surface area", fmt.Sprintf("%.2f mm2", dims.SurfaceArea)},
		{"Volume", fmt.Sprintf("%.2f mm3", dims.Volume)},
		{"Triangles", fmt.Sprintf("%d", dims.TriangleCount)},
	}
	for _, row := range rows {
		pdf.CellFormat(50, 8, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 8, row[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(8)

	// Three orthographic bounding views at a shared scale.
	maxDim := dims.Size[0]
	for _, d := range dims.Size {
		if d > maxDim {
			maxDim = d
		}
	}
	if maxDim <= 0 {
		maxDim = 1
	}
	scale := 50.0 / maxDim

	views := []struct {
		label string
		w, h  float64
	}{
		{"Top (X/Y)", dims.Size[0], dims.Size[1]},
		{"Front (X/Z)", dims.Size[0], dims.Size[2]},
		{"Side (Y/Z)", dims.Size[1], dims.Size[2]},
	}
	x := 15.0
	y := pdf.GetY()
	pdf.SetFont("Helvetica", "", 9)
	for _, v := range views {
		pdf.SetXY(x, y)
		pdf.CellFormat(60, 5, v.label, "", 0, "L", false, 0, "")
		pdf.Rect(x, y+7, v.w*scale, v.h*scale, "D")
		x += 62
	}

	return pdf.OutputFileAndClose(path)
}
