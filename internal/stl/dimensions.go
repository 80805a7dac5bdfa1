package stl

import "math"

// Dimensions holds the measured geometry of a mesh. Units follow the STL
// file, conventionally millimeters.
type Dimensions struct {
	Min           [3]float64 `json:"min"`
	Max           [3]float64 `json:"max"`
	Size          [3]float64 `json:"size"` // width, depth, height
	SurfaceArea   float64    `json:"surface_area"`
	Volume        float64    `json:"volume"`
	TriangleCount int        `json:"triangle_count"`
}

// Measure computes the bounding box, surface area, and enclosed volume of
// a mesh. Volume uses the signed-tetrahedron method and is only meaningful
// for closed meshes; it is reported as an absolute value.
func Measure(m *Mesh) Dimensions {
	d := Dimensions{TriangleCount: len(m.Triangles)}
	for i := range d.Min {
		d.Min[i] = math.Inf(1)
		d.Max[i] = math.Inf(-1)
	}

	var volume float64
	for _, t := range m.Triangles {
		var v [3][3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v[i][j] = float64(t.Vertices[i][j])
				if v[i][j] < d.Min[j] {
					d.Min[j] = v[i][j]
				}
				if v[i][j] > d.Max[j] {
					d.Max[j] = v[i][j]
				}
			}
		}

		d.SurfaceArea += triangleArea(v)
		volume += signedTetraVolume(v)
	}

	if len(m.Triangles) == 0 {
		d.Min = [3]float64{}
		d.Max = [3]float64{}
	}
	for i := range d.Size {
		d.Size[i] = d.Max[i] - d.Min[i]
	}
	d.Volume = math.Abs(volume)

	return d
}

func triangleArea(v [3][3]float64) float64 {
	ab := [3]float64{v[1][0] - v[0][0], v[1][1] - v[0][1], v[1][2] - v[0][2]}
	ac := [3]float64{v[2][0] - v[0][0], v[2][1] - v[0][1], v[2][2] - v[0][2]}
	cx := ab[1]*ac[2] - ab[2]*ac[1]
	cy := ab[2]*ac[0] - ab[0]*ac[2]
	cz := ab[0]*ac[1] - ab[1]*ac[0]
	return 0.5 * math.Sqrt(cx*cx+cy*cy+cz*cz)
}

func signedTetraVolume(v [3][3]float64) float64 {
	return (v[0][0]*(v[1][1]*v[2][2]-v[2][1]*v[1][2]) -
		v[1][0]*(v[0][1]*v[2][2]-v[2][1]*v[0][2]) +
		v[2][0]*(v[0][1]*v[1][2]-v[1][1]*v[0][2])) / 6.0
}

// Printability flags derived from measured dimensions, matching the
// analysis report of the original tool.
type Printability struct {
	FitsCommonBed bool     `json:"fits_common_bed"` // 220x220x250mm reference volume
	Thinnest      float64  `json:"thinnest_axis_mm"`
	Notes         []string `json:"notes,omitempty"`
}

// AssessPrintability evaluates a mesh's dimensions against a common FDM
// build volume.
func AssessPrintability(d Dimensions) Printability {
	p := Printability{
		FitsCommonBed: d.Size[0] <= 220 && d.Size[1] <= 220 && d.Size[2] <= 250,
		Thinnest:      math.Min(d.Size[0], math.Min(d.Size[1], d.Size[2])),
	}
	if !p.FitsCommonBed {
		p.Notes = append(p.Notes, "model exceeds a 220x220x250mm build volume")
	}
	if p.Thinnest > 0 && p.Thinnest < 0.8 {
		p.Notes = append(p.Notes, "thinnest axis is below 0.8mm and may not print reliably")
	}
	return p
}
