package stl

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/ternarybob/meshbatch/internal/models"
)

// RenderView configures one projected image of a mesh.
type RenderView struct {
	Width    int
	Height   int
	Material models.MaterialType
	Lighting models.LightingPreset
	Quality  models.RenderQuality

	// YawDegrees rotates the model around its vertical axis. Video
	// generation varies this per frame.
	YawDegrees float64
}

var materialColors = map[models.MaterialType][3]float64{
	models.MaterialPlastic: {0.85, 0.35, 0.25},
	models.MaterialMetal:   {0.70, 0.72, 0.76},
	models.MaterialResin:   {0.95, 0.80, 0.45},
	models.MaterialCeramic: {0.92, 0.90, 0.86},
	models.MaterialWood:    {0.62, 0.44, 0.26},
	models.MaterialGlass:   {0.60, 0.78, 0.88},
}

// lightingSetups hold a normalized light direction and ambient floor
// per preset.
var lightingSetups = map[models.LightingPreset]struct {
	dir     [3]float64
	ambient float64
}{
	models.LightingStudio:   {dir: [3]float64{-0.4, 0.5, 0.77}, ambient: 0.30},
	models.LightingNatural:  {dir: [3]float64{0.3, 0.8, 0.52}, ambient: 0.40},
	models.LightingDramatic: {dir: [3]float64{-0.85, 0.2, 0.49}, ambient: 0.12},
	models.LightingSoft:     {dir: [3]float64{0.0, 0.3, 0.95}, ambient: 0.55},
}

func supersample(q models.RenderQuality) int {
	switch q {
	case models.QualityDraft:
		return 1
	case models.QualityHigh:
		return 2
	case models.QualityUltra:
		return 3
	default:
		return 1
	}
}

// RenderImage rasterizes an orthographic projection of the mesh with
// flat Lambert shading and back-to-front triangle ordering. The model
// is tilted toward the viewer and rotated by the requested yaw.
func RenderImage(m *Mesh, view RenderView) *image.RGBA {
	ss := supersample(view.Quality)
	w, h := view.Width*ss, view.Height*ss

	base, ok := materialColors[view.Material]
	if !ok {
		base = materialColors[models.MaterialPlastic]
	}
	light, ok := lightingSetups[view.Lighting]
	if !ok {
		light = lightingSetups[models.LightingStudio]
	}

	tris := projectTriangles(m, view.YawDegrees, w, h)
	sort.Slice(tris, func(i, j int) bool { return tris[i].depth < tris[j].depth })

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillBackground(img)

	for _, t := range tris {
		shade := light.ambient + (1-light.ambient)*math.Max(0, dot3(t.normal, light.dir))
		c := color.RGBA{
			R: uint8(math.Min(base[0]*shade, 1) * 255),
			G: uint8(math.Min(base[1]*shade, 1) * 255),
			B: uint8(math.Min(base[2]*shade, 1) * 255),
			A: 255,
		}
		fillTriangle(img, t.pts, c)
	}

	if ss == 1 {
		return img
	}
	return downsample(img, ss, view.Width, view.Height)
}

type projected struct {
	pts    [3][2]float64
	depth  float64
	normal [3]float64
}

const tiltDegrees = 25.0

// projectTriangles rotates the mesh, centers it, and maps it into
// pixel space leaving a 10% border.
func projectTriangles(m *Mesh, yawDegrees float64, w, h int) []projected {
	if len(m.Triangles) == 0 {
		return nil
	}

	yaw := yawDegrees * math.Pi / 180
	tilt := tiltDegrees * math.Pi / 180
	sy, cy := math.Sin(yaw), math.Cos(yaw)
	st, ct := math.Sin(tilt), math.Cos(tilt)

	rotate := func(v [3]float32) [3]float64 {
		x, y, z := float64(v[0]), float64(v[1]), float64(v[2])
		// Yaw around Z (model up axis), then tilt around X.
		x, y = x*cy-y*sy, x*sy+y*cy
		y, z = y*ct-z*st, y*st+z*ct
		return [3]float64{x, y, z}
	}

	tris := make([]projected, 0, len(m.Triangles))
	min := [2]float64{math.Inf(1), math.Inf(1)}
	max := [2]float64{math.Inf(-1), math.Inf(-1)}

	for _, t := range m.Triangles {
		var p projected
		var v [3][3]float64
		for i := 0; i < 3; i++ {
			v[i] = rotate(t.Vertices[i])
			// Screen plane is X/Z; Y points away from the viewer.
			p.pts[i] = [2]float64{v[i][0], v[i][2]}
			p.depth += v[i][1] / 3
			for j := 0; j < 2; j++ {
				if p.pts[i][j] < min[j] {
					min[j] = p.pts[i][j]
				}
				if p.pts[i][j] > max[j] {
					max[j] = p.pts[i][j]
				}
			}
		}
		p.normal = faceNormal(v)
		tris = append(tris, p)
	}

	// Painter's algorithm draws far triangles first.
	for i := range tris {
		tris[i].depth = -tris[i].depth
	}

	spanX, spanY := max[0]-min[0], max[1]-min[1]
	span := math.Max(spanX, spanY)
	if span <= 0 {
		span = 1
	}
	scale := 0.8 * math.Min(float64(w), float64(h)) / span
	cx := (min[0] + max[0]) / 2
	cyy := (min[1] + max[1]) / 2

	for i := range tris {
		for j := 0; j < 3; j++ {
			tris[i].pts[j][0] = float64(w)/2 + (tris[i].pts[j][0]-cx)*scale
			tris[i].pts[j][1] = float64(h)/2 - (tris[i].pts[j][1]-cyy)*scale
		}
	}
	return tris
}

func faceNormal(v [3][3]float64) [3]float64 {
	ab := [3]float64{v[1][0] - v[0][0], v[1][1] - v[0][1], v[1][2] - v[0][2]}
	ac := [3]float64{v[2][0] - v[0][0], v[2][1] - v[0][1], v[2][2] - v[0][2]}
	n := [3]float64{
		ab[1]*ac[2] - ab[2]*ac[1],
		ab[2]*ac[0] - ab[0]*ac[2],
		ab[0]*ac[1] - ab[1]*ac[0],
	}
	l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if l == 0 {
		return [3]float64{0, 0, 1}
	}
	// Flip normals facing away so both windings shade consistently.
	if n[1] > 0 {
		l = -l
	}
	return [3]float64{n[0] / l, n[1] / l, n[2] / l}
}

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func fillBackground(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		// Subtle vertical gradient.
		v := uint8(238 - 20*y/b.Max.Y)
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, uint8(int(v) + 8), 255})
		}
	}
}

// fillTriangle scan-converts one triangle with edge-function coverage.
func fillTriangle(img *image.RGBA, pts [3][2]float64, c color.RGBA) {
	minX := int(math.Floor(math.Min(pts[0][0], math.Min(pts[1][0], pts[2][0]))))
	maxX := int(math.Ceil(math.Max(pts[0][0], math.Max(pts[1][0], pts[2][0]))))
	minY := int(math.Floor(math.Min(pts[0][1], math.Min(pts[1][1], pts[2][1]))))
	maxY := int(math.Ceil(math.Max(pts[0][1], math.Max(pts[1][1], pts[2][1]))))

	b := img.Bounds()
	if minX < b.Min.X {
		minX = b.Min.X
	}
	if minY < b.Min.Y {
		minY = b.Min.Y
	}
	if maxX > b.Max.X-1 {
		maxX = b.Max.X - 1
	}
	if maxY > b.Max.Y-1 {
		maxY = b.Max.Y - 1
	}

	edge := func(a, bp [2]float64, px, py float64) float64 {
		return (px-a[0])*(bp[1]-a[1]) - (py-a[1])*(bp[0]-a[0])
	}

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			w0 := edge(pts[1], pts[2], px, py)
			w1 := edge(pts[2], pts[0], px, py)
			w2 := edge(pts[0], pts[1], px, py)
			if (w0 >= 0 && w1 >= 0 && w2 >= 0) || (w0 <= 0 && w1 <= 0 && w2 <= 0) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func downsample(src *image.RGBA, factor, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	n := factor * factor
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b int
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					c := src.RGBAAt(x*factor+dx, y*factor+dy)
					r += int(c.R)
					g += int(c.G)
					b += int(c.B)
				}
			}
			dst.SetRGBA(x, y, color.RGBA{uint8(r / n), uint8(g / n), uint8(b / n), 255})
		}
	}
	return dst
}
