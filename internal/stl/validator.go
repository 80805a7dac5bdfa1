package stl

import (
	"fmt"
	"math"

	"github.com/ternarybob/meshbatch/internal/models"
)

// Issue is one finding from mesh validation.
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
}

// Report is the outcome of a validation pass.
type Report struct {
	Level         models.ValidationLevel `json:"level"`
	Passed        bool                   `json:"passed"`
	Issues        []Issue                `json:"issues,omitempty"`
	RepairedCount int                    `json:"repaired_count"`
	TriangleCount int                    `json:"triangle_count"`
}

// Validate checks a mesh at the requested strictness level. With
// autoRepair enabled, degenerate triangles are dropped and bad facet
// normals recomputed in place; repairs are counted, not reported as
// errors.
//
// Levels are cumulative:
//
//	basic:    non-finite coordinates, empty mesh
//	standard: + degenerate (zero-area) triangles, facet normal direction
//	strict:   + non-manifold edges, duplicate facets
func Validate(m *Mesh, level models.ValidationLevel, autoRepair bool) *Report {
	report := &Report{Level: level, TriangleCount: len(m.Triangles)}

	if len(m.Triangles) == 0 {
		report.addError("EMPTY_MESH", "mesh contains no triangles")
		return report.finish()
	}

	checkFinite(m, report)

	if level == models.ValidationStandard || level == models.ValidationStrict {
		checkDegenerate(m, report, autoRepair)
		checkNormals(m, report, autoRepair)
	}

	if level == models.ValidationStrict {
		checkManifold(m, report)
		checkDuplicates(m, report)
	}

	report.TriangleCount = len(m.Triangles)
	return report.finish()
}

func (r *Report) addError(code, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Code: code, Severity: "error", Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarning(code, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Code: code, Severity: "warning", Message: fmt.Sprintf(format, args...)})
}

func (r *Report) finish() *Report {
	r.Passed = true
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			r.Passed = false
			break
		}
	}
	return r
}

func checkFinite(m *Mesh, report *Report) {
	bad := 0
	for _, t := range m.Triangles {
		for _, v := range t.Vertices {
			for _, c := range v {
				f := float64(c)
				if math.IsNaN(f) || math.IsInf(f, 0) {
					bad++
				}
			}
		}
	}
	if bad > 0 {
		report.addError("NON_FINITE", "%d non-finite vertex coordinates", bad)
	}
}

func checkDegenerate(m *Mesh, report *Report, repair bool) {
	const minArea = 1e-12

	degenerate := 0
	kept := m.Triangles[:0]
	for _, t := range m.Triangles {
		var v [3][3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v[i][j] = float64(t.Vertices[i][j])
			}
		}
		if triangleArea(v) < minArea {
			degenerate++
			if repair {
				continue // drop it
			}
		}
		kept = append(kept, t)
	}

	if degenerate == 0 {
		return
	}
	if repair {
		m.Triangles = kept
		report.RepairedCount += degenerate
		report.addWarning("DEGENERATE", "%d degenerate triangles removed", degenerate)
	} else {
		report.addError("DEGENERATE", "%d degenerate (zero-area) triangles", degenerate)
	}
}

func checkNormals(m *Mesh, report *Report, repair bool) {
	const tolerance = 1e-3

	mismatched := 0
	for i := range m.Triangles {
		t := &m.Triangles[i]

		var v [3][3]float64
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				v[a][b] = float64(t.Vertices[a][b])
			}
		}
		ab := [3]float64{v[1][0] - v[0][0], v[1][1] - v[0][1], v[1][2] - v[0][2]}
		ac := [3]float64{v[2][0] - v[0][0], v[2][1] - v[0][1], v[2][2] - v[0][2]}
		n := [3]float64{
			ab[1]*ac[2] - ab[2]*ac[1],
			ab[2]*ac[0] - ab[0]*ac[2],
			ab[0]*ac[1] - ab[1]*ac[0],
		}
		length := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		if length == 0 {
			continue // degenerate, handled separately
		}
		for j := range n {
			n[j] /= length
		}

		stored := [3]float64{float64(t.Normal[0]), float64(t.Normal[1]), float64(t.Normal[2])}
		storedLen := math.Sqrt(stored[0]*stored[0] + stored[1]*stored[1] + stored[2]*stored[2])

		outOfAgreement := false
		if storedLen < tolerance {
			outOfAgreement = true // missing normal
		} else {
			dot := (stored[0]*n[0] + stored[1]*n[1] + stored[2]*n[2]) / storedLen
			if dot < 1-tolerance {
				outOfAgreement = true
			}
		}

		if outOfAgreement {
			mismatched++
			if repair {
				t.Normal = [3]float32{float32(n[0]), float32(n[1]), float32(n[2])}
			}
		}
	}

	if mismatched == 0 {
		return
	}
	if repair {
		report.RepairedCount += mismatched
		report.addWarning("BAD_NORMALS", "%d facet normals recomputed", mismatched)
	} else {
		report.addError("BAD_NORMALS", "%d facet normals disagree with winding order", mismatched)
	}
}

type edgeKey struct {
	a, b [3]float32
}

func makeEdge(p, q [3]float32) edgeKey {
	// Canonical order so (p,q) and (q,p) hash identically.
	if p[0] < q[0] || (p[0] == q[0] && (p[1] < q[1] || (p[1] == q[1] && p[2] <= q[2]))) {
		return edgeKey{p, q}
	}
	return edgeKey{q, p}
}

func checkManifold(m *Mesh, report *Report) {
	edges := make(map[edgeKey]int, len(m.Triangles)*3)
	for _, t := range m.Triangles {
		for i := 0; i < 3; i++ {
			edges[makeEdge(t.Vertices[i], t.Vertices[(i+1)%3])]++
		}
	}

	open, overshared := 0, 0
	for _, count := range edges {
		switch {
		case count == 1:
			open++
		case count > 2:
			overshared++
		}
	}

	if open > 0 {
		report.addError("OPEN_EDGES", "%d boundary edges (mesh is not watertight)", open)
	}
	if overshared > 0 {
		report.addError("NON_MANIFOLD", "%d edges shared by more than two facets", overshared)
	}
}

func checkDuplicates(m *Mesh, report *Report) {
	seen := make(map[[3][3]float32]int, len(m.Triangles))
	duplicates := 0
	for _, t := range m.Triangles {
		seen[t.Vertices]++
		if seen[t.Vertices] > 1 {
			duplicates++
		}
	}
	if duplicates > 0 {
		report.addWarning("DUPLICATE_FACETS", "%d duplicate facets", duplicates)
	}
}
