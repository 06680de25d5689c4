package meshing

import (
	"math"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
)

// fibonacciSphere returns n nearly uniform points on a sphere.
func fibonacciSphere(n int, radius float64) *geometry.PointCloud {
	golden := math.Pi * (3 - math.Sqrt(5))
	pts := make([]r3.Vector, n)
	for i := range pts {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		pts[i] = r3.Vector{X: r * math.Cos(theta), Y: y, Z: r * math.Sin(theta)}.Mul(radius)
	}
	return &geometry.PointCloud{Points: pts}
}

func signedVolume(m *geometry.Mesh) float64 {
	var v float64
	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		v += a.Dot(b.Cross(c)) / 6
	}
	return v
}
