package meshing

import (
	"context"
	"fmt"
	"math"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
)

// implicitSurface is the solved indicator function together with the
// sample density on the same lattice.
type implicitSurface struct {
	lat     lattice
	chi     []float64
	density []float64
	iso     float64
	depth   int
}

// cascadeLevels is how many coarser solves seed the finest one.
const cascadeLevels = 3

// DepthPlan records how the solved lattice depth was chosen.
type DepthPlan struct {
	// Requested is Options.Depth, or the depth implied by Options.Width.
	Requested int
	// Sampling is the depth the point spacing supports; 0 when unknown.
	Sampling int
	// Effective is the depth actually solved for.
	Effective int
	// SolverCapped is set when MaxSolverDepth lowered the depth below what
	// the request and the sampling allowed.
	SolverCapped bool
}

// PlanPoissonDepth caps the requested depth by what the sampling density
// can support and by MaxSolverDepth, never going below 2.
func PlanPoissonDepth(pc *geometry.PointCloud, opts Options) (DepthPlan, error) {
	box, ok := pc.Bounds()
	if !ok {
		return DepthPlan{}, fmt.Errorf("empty point cloud")
	}
	side := box.MaxExtent() * opts.Scale
	if side <= 0 || math.IsNaN(side) || math.IsInf(side, 0) {
		return DepthPlan{}, fmt.Errorf("degenerate bounding box (extent %g)", box.MaxExtent())
	}

	plan := DepthPlan{Requested: opts.Depth}
	if plan.Requested == 0 && opts.Width > 0 {
		plan.Requested = int(math.Ceil(math.Log2(side / opts.Width)))
	}

	supported := plan.Requested
	if spacing := meanSpacing(pc); spacing > 0 {
		plan.Sampling = int(math.Floor(math.Log2(side / spacing)))
		supported = min(supported, plan.Sampling)
	}
	supported = max(supported, 2)
	plan.Effective = max(min(supported, opts.MaxSolverDepth), 2)
	plan.SolverCapped = plan.Effective < supported
	return plan, nil
}

// PoissonDepth returns the effective depth of PlanPoissonDepth.
func PoissonDepth(pc *geometry.PointCloud, opts Options) (int, error) {
	plan, err := PlanPoissonDepth(pc, opts)
	return plan.Effective, err
}

// meanSpacing estimates the mean nearest neighbour distance from an evenly
// strided subset of at most 2048 points.
func meanSpacing(pc *geometry.PointCloud) float64 {
	n := pc.Len()
	if n < 2 {
		return 0
	}
	ix := geometry.NewIndex(pc.Points)
	step := max(1, n/2048)
	var sum float64
	var count int
	for i := 0; i < n; i += step {
		if nb := ix.KNearestOf(i, 1); len(nb) == 1 && nb[0].Distance > 0 {
			sum += nb[0].Distance
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// solvePoisson finds chi with laplacian(chi) = div(V), V being the splatted
// and smoothed normal field, under a zero Dirichlet boundary. Coarser
// lattices are solved first and prolonged as the initial guess of the next.
func solvePoisson(ctx context.Context, pc *geometry.PointCloud, opts Options, depth int) (*implicitSurface, error) {
	box, _ := pc.Bounds()
	side := box.MaxExtent() * opts.Scale
	half := side / 2
	origin := box.Center().Sub(r3.Vector{X: half, Y: half, Z: half})

	var (
		prev    lattice
		prevChi []float64
	)
	for d := max(2, depth-cascadeLevels); d <= depth; d++ {
		lat := newLattice(origin, side, d)
		rhs := lat.poissonRHS(lat.splatNormals(pc))
		chi := make([]float64, lat.size())
		if prevChi != nil {
			lat.prolong(prev, prevChi, chi)
		}
		if err := lat.conjugateGradient(ctx, rhs, chi, opts.SolverTol, opts.SolverMaxIter, opts.Workers); err != nil {
			return nil, err
		}
		prev, prevChi = lat, chi
	}

	s := &implicitSurface{lat: prev, chi: prevChi, depth: depth}
	for _, p := range pc.Points {
		s.iso += prev.interpolate(prevChi, p)
	}
	s.iso /= float64(pc.Len())

	s.density = make([]float64, prev.size())
	for _, p := range pc.Points {
		prev.corners(prev.gridCoords(p), func(id int, w float64) { s.density[id] += w })
	}
	prev.blur(s.density)
	return s, nil
}

// splatNormals distributes every oriented sample onto its cell corners and
// smooths the result. Values are per unit volume so that lattices of
// different depth see the same field.
func (l lattice) splatNormals(pc *geometry.PointCloud) [3][]float64 {
	var v [3][]float64
	for a := range v {
		v[a] = make([]float64, l.size())
	}
	inv := 1 / (l.h * l.h * l.h)
	for i, p := range pc.Points {
		nrm := pc.Normals[i]
		l.corners(l.gridCoords(p), func(id int, w float64) {
			w *= inv
			v[0][id] += w * nrm.X
			v[1][id] += w * nrm.Y
			v[2][id] += w * nrm.Z
		})
	}
	for a := range v {
		l.blur(v[a])
	}
	return v
}

// poissonRHS returns -h^2 div(V) on interior nodes, the right hand side of
// the system A chi = b with A = -h^2 laplacian.
func (l lattice) poissonRHS(v [3][]float64) []float64 {
	b := make([]float64, l.size())
	sx, sy, sz := 1, l.res, l.res*l.res
	scale := -l.h * l.h / (2 * l.h)
	for k := 1; k < l.n; k++ {
		for j := 1; j < l.n; j++ {
			for i := 1; i < l.n; i++ {
				id := l.idx(i, j, k)
				div := v[0][id+sx] - v[0][id-sx] +
					v[1][id+sy] - v[1][id-sy] +
					v[2][id+sz] - v[2][id-sz]
				b[id] = scale * div
			}
		}
	}
	return b
}

// applyLaplacian computes out = A x with A the 7-point negative laplacian
// scaled by h^2. Boundary entries of x are taken as zero and boundary
// entries of out are zero.
func (l lattice) applyLaplacian(ctx context.Context, x, out []float64, workers int) error {
	sy, sz := l.res, l.res*l.res
	return parallelFor(ctx, l.n-1, workers, func(from, to int) error {
		for k := from + 1; k < to+1; k++ {
			for j := 1; j < l.n; j++ {
				base := l.idx(0, j, k)
				for i := 1; i < l.n; i++ {
					id := base + i
					out[id] = 6*x[id] - x[id-1] - x[id+1] - x[id-sy] - x[id+sy] - x[id-sz] - x[id+sz]
				}
			}
		}
		return nil
	})
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// conjugateGradient solves A x = b in place, starting from the given x.
func (l lattice) conjugateGradient(ctx context.Context, b, x []float64, tol float64, maxIter, workers int) error {
	for id := range x {
		if i, j, k := l.coords(id); l.boundary(i, j, k) {
			x[id] = 0
		}
	}
	bnorm := math.Sqrt(dot(b, b))
	if bnorm == 0 {
		return nil
	}

	r := make([]float64, len(b))
	p := make([]float64, len(b))
	ap := make([]float64, len(b))
	if err := l.applyLaplacian(ctx, x, ap, workers); err != nil {
		return err
	}
	for i := range r {
		r[i] = b[i] - ap[i]
	}
	copy(p, r)
	rs := dot(r, r)

	for it := 0; it < maxIter && math.Sqrt(rs) > tol*bnorm; it++ {
		if err := l.applyLaplacian(ctx, p, ap, workers); err != nil {
			return err
		}
		pap := dot(p, ap)
		if pap <= 0 {
			break
		}
		alpha := rs / pap
		for i := range x {
			x[i] += alpha * p[i]
			r[i] -= alpha * ap[i]
		}
		rsNew := dot(r, r)
		beta := rsNew / rs
		for i := range p {
			p[i] = r[i] + beta*p[i]
		}
		rs = rsNew
	}
	return nil
}
