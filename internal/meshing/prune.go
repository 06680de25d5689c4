package meshing

import (
	"fmt"
	"math"
	"sort"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
)

// DensityThreshold returns the q-quantile of the vertex densities, linearly
// interpolated between order statistics at rank (n-1)q.
func DensityThreshold(densities []float64, q float64) float64 {
	if len(densities) == 0 {
		return 0
	}
	sorted := append([]float64(nil), densities...)
	sort.Float64s(sorted)
	q = math.Max(0, math.Min(1, q))
	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// PruneByDensity removes every vertex whose density is strictly below the
// q-quantile of all densities, plus every triangle touching one. Surviving
// vertices are compacted in their original order and the densities are
// dropped from the result.
func PruneByDensity(m *geometry.Mesh, q float64) (*geometry.Mesh, float64, error) {
	if len(m.Densities) != len(m.Vertices) {
		return nil, 0, fmt.Errorf("mesh has %d vertices but %d densities", len(m.Vertices), len(m.Densities))
	}
	if len(m.Vertices) == 0 {
		return &geometry.Mesh{}, 0, nil
	}
	threshold := DensityThreshold(m.Densities, q)

	remap := make([]int, len(m.Vertices))
	out := &geometry.Mesh{Vertices: make([]r3.Vector, 0, len(m.Vertices))}
	hasNormals := len(m.Normals) == len(m.Vertices)
	for i, d := range m.Densities {
		if d < threshold {
			remap[i] = -1
			continue
		}
		remap[i] = len(out.Vertices)
		out.Vertices = append(out.Vertices, m.Vertices[i])
		if hasNormals {
			out.Normals = append(out.Normals, m.Normals[i])
		}
	}
	for _, tri := range m.Triangles {
		a, b, c := remap[tri[0]], remap[tri[1]], remap[tri[2]]
		if a < 0 || b < 0 || c < 0 {
			continue
		}
		out.Triangles = append(out.Triangles, [3]int{a, b, c})
	}
	return out, threshold, nil
}
