package meshing

import (
	"context"
	"math"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
)

// kuhnTets splits a cell into six tetrahedra around its main diagonal.
// Corner bit 0 is +x, bit 1 is +y and bit 2 is +z. The split is translation
// invariant, so neighbouring cells agree on their shared faces.
var kuhnTets = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

type surfacer struct {
	s         *implicitSurface
	linearFit bool
	mesh      *geometry.Mesh
	edges     map[uint64]int
}

// extractSurface polygonises the iso level of s with marching tetrahedra.
// Vertices are shared per lattice edge. Triangles face towards increasing
// chi, which is the direction of the input normals.
func extractSurface(ctx context.Context, s *implicitSurface, linearFit bool) (*geometry.Mesh, error) {
	sf := &surfacer{
		s:         s,
		linearFit: linearFit,
		mesh:      &geometry.Mesh{},
		edges:     make(map[uint64]int),
	}
	lat := s.lat
	var ids [8]int
	for k := 0; k < lat.n; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := 0; j < lat.n; j++ {
			for i := 0; i < lat.n; i++ {
				above := 0
				for b := range ids {
					ids[b] = lat.idx(i+b&1, j+(b>>1)&1, k+(b>>2)&1)
					if s.chi[ids[b]] >= s.iso {
						above++
					}
				}
				if above == 0 || above == 8 {
					continue
				}
				for _, tet := range kuhnTets {
					sf.tetrahedron([4]int{ids[tet[0]], ids[tet[1]], ids[tet[2]], ids[tet[3]]})
				}
			}
		}
	}
	return sf.mesh, nil
}

func (sf *surfacer) tetrahedron(ids [4]int) {
	var hi, lo []int
	var hiC, loC r3.Vector
	for _, id := range ids {
		if sf.s.chi[id] >= sf.s.iso {
			hi = append(hi, id)
			hiC = hiC.Add(sf.s.lat.position(id))
		} else {
			lo = append(lo, id)
			loC = loC.Add(sf.s.lat.position(id))
		}
	}
	if len(hi) == 0 || len(lo) == 0 {
		return
	}
	up := hiC.Mul(1 / float64(len(hi))).Sub(loC.Mul(1 / float64(len(lo))))

	switch len(hi) {
	case 1:
		a := hi[0]
		sf.triangle(up, sf.vertex(a, lo[0]), sf.vertex(a, lo[1]), sf.vertex(a, lo[2]))
	case 3:
		a := lo[0]
		sf.triangle(up, sf.vertex(a, hi[0]), sf.vertex(a, hi[1]), sf.vertex(a, hi[2]))
	case 2:
		a, b, c, d := hi[0], hi[1], lo[0], lo[1]
		ac, ad, bd, bc := sf.vertex(a, c), sf.vertex(a, d), sf.vertex(b, d), sf.vertex(b, c)
		sf.triangle(up, ac, ad, bd)
		sf.triangle(up, ac, bd, bc)
	}
}

func (sf *surfacer) triangle(up r3.Vector, v0, v1, v2 int) {
	verts := sf.mesh.Vertices
	n := verts[v1].Sub(verts[v0]).Cross(verts[v2].Sub(verts[v0]))
	if n.Dot(up) < 0 {
		v1, v2 = v2, v1
	}
	sf.mesh.Triangles = append(sf.mesh.Triangles, [3]int{v0, v1, v2})
}

// vertex returns the mesh vertex on lattice edge (a, b), creating it on
// first use.
func (sf *surfacer) vertex(a, b int) int {
	if a > b {
		a, b = b, a
	}
	key := uint64(a)*uint64(sf.s.lat.size()) + uint64(b)
	if v, ok := sf.edges[key]; ok {
		return v
	}
	t := sf.crossing(a, b)
	pa, pb := sf.s.lat.position(a), sf.s.lat.position(b)
	da, db := sf.s.density[a], sf.s.density[b]

	v := len(sf.mesh.Vertices)
	sf.mesh.Vertices = append(sf.mesh.Vertices, pa.Add(pb.Sub(pa).Mul(t)))
	sf.mesh.Densities = append(sf.mesh.Densities, da+t*(db-da))
	sf.edges[key] = v
	return v
}

// crossing locates the iso level on edge (a, b) as a fraction from a. Unless
// linearFit is set, a parabola through the values one node beyond each end
// refines the linear estimate.
func (sf *surfacer) crossing(a, b int) float64 {
	chi, iso := sf.s.chi, sf.s.iso
	fa, fb := chi[a], chi[b]
	linear := clamp01((iso - fa) / (fb - fa))
	if sf.linearFit {
		return linear
	}

	lat := sf.s.lat
	ai, aj, ak := lat.coords(a)
	bi, bj, bk := lat.coords(b)
	di, dj, dk := bi-ai, bj-aj, bk-ak
	if !lat.inside(ai-di, aj-dj, ak-dk) || !lat.inside(bi+di, bj+dj, bk+dk) {
		return linear
	}
	fm := chi[lat.idx(ai-di, aj-dj, ak-dk)]
	fp := chi[lat.idx(bi+di, bj+dj, bk+dk)]

	// q(t) = fa + bq*t + c*t^2 with q(1) = fb and c from the averaged
	// second differences at both ends.
	c := (fm - fa - fb + fp) / 4
	bq := fb - fa - c
	if math.Abs(c) < 1e-12*(math.Abs(bq)+1e-300) {
		return linear
	}
	disc := bq*bq - 4*c*(fa-iso)
	if disc < 0 {
		return linear
	}
	sq := math.Sqrt(disc)
	best, found := linear, false
	for _, t := range []float64{(-bq + sq) / (2 * c), (-bq - sq) / (2 * c)} {
		if t < 0 || t > 1 {
			continue
		}
		if !found || math.Abs(t-linear) < math.Abs(best-linear) {
			best, found = t, true
		}
	}
	return best
}

func clamp01(t float64) float64 {
	if math.IsNaN(t) {
		return 0.5
	}
	return math.Max(0, math.Min(1, t))
}
