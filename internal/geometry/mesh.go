package geometry

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Mesh is an indexed triangle mesh. Normals is nil or parallel to Vertices.
// Densities is only populated between surface reconstruction and pruning.
type Mesh struct {
	Vertices  []r3.Vector
	Normals   []r3.Vector
	Triangles [][3]int
	Densities []float64
}

// Validate checks that every triangle references an existing vertex.
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	if m.Normals != nil && len(m.Normals) != n {
		return fmt.Errorf("mesh has %d vertices but %d normals", n, len(m.Normals))
	}
	if m.Densities != nil && len(m.Densities) != n {
		return fmt.Errorf("mesh has %d vertices but %d densities", n, len(m.Densities))
	}
	for i, tri := range m.Triangles {
		for _, v := range tri {
			if v < 0 || v >= n {
				return fmt.Errorf("triangle %d references vertex %d of %d", i, v, n)
			}
		}
	}
	return nil
}

// ComputeVertexNormals sets each vertex normal to the area weighted average
// of the normals of its incident triangles.
func (m *Mesh) ComputeVertexNormals() {
	normals := make([]r3.Vector, len(m.Vertices))
	for _, tri := range m.Triangles {
		a, b, c := m.Vertices[tri[0]], m.Vertices[tri[1]], m.Vertices[tri[2]]
		// Cross product length is twice the area, so this is area weighted.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, v := range tri {
			normals[v] = normals[v].Add(n)
		}
	}
	for i, n := range normals {
		if l := n.Norm(); l > 0 {
			normals[i] = n.Mul(1 / l)
		}
	}
	m.Normals = normals
}

// EdgeKey is an undirected mesh edge with A < B.
type EdgeKey struct{ A, B int }

func NewEdgeKey(a, b int) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// EdgeValence counts how many triangles share each undirected edge.
func (m *Mesh) EdgeValence() map[EdgeKey]int {
	out := make(map[EdgeKey]int, len(m.Triangles)*3/2)
	for _, tri := range m.Triangles {
		out[NewEdgeKey(tri[0], tri[1])]++
		out[NewEdgeKey(tri[1], tri[2])]++
		out[NewEdgeKey(tri[2], tri[0])]++
	}
	return out
}

// IsEdgeManifold reports whether no edge is shared by more than two
// triangles.
func (m *Mesh) IsEdgeManifold() bool {
	for _, n := range m.EdgeValence() {
		if n > 2 {
			return false
		}
	}
	return true
}
