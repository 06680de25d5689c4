package meshing

import (
	"context"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

var defaultNormal = r3.Vector{X: 0, Y: 0, Z: 1}

// EstimateNormals fits a tangent plane to the hybrid neighbourhood of every
// point (at most maxNN points within radius, the point included) and stores
// its unit normal in pc.Normals. A point with fewer than three neighbours
// gets +Z. When the cloud already carries normals, each new normal is
// flipped to agree with the old one.
func EstimateNormals(ctx context.Context, pc *geometry.PointCloud, radius float64, maxNN int, workers int) error {
	n := pc.Len()
	prior := pc.HasNormals()
	normals := make([]r3.Vector, n)
	ix := geometry.NewIndex(pc.Points)

	err := parallelFor(ctx, n, workers, func(from, to int) error {
		cov := mat.NewSymDense(3, nil)
		var eig mat.EigenSym
		var vecs mat.Dense
		for i := from; i < to; i++ {
			nbrs := ix.Hybrid(pc.Points[i], radius, maxNN)
			normal, ok := fitPlaneNormal(pc.Points, nbrs, cov, &eig, &vecs)
			if !ok {
				normal = defaultNormal
			}
			if prior && normal.Dot(pc.Normals[i]) < 0 {
				normal = normal.Mul(-1)
			}
			normals[i] = normal
		}
		return nil
	})
	if err != nil {
		return err
	}
	pc.Normals = normals
	return nil
}

// fitPlaneNormal returns the eigenvector of the smallest eigenvalue of the
// neighbourhood covariance.
func fitPlaneNormal(points []r3.Vector, nbrs []geometry.Neighbor, cov *mat.SymDense, eig *mat.EigenSym, vecs *mat.Dense) (r3.Vector, bool) {
	if len(nbrs) < 3 {
		return r3.Vector{}, false
	}
	var c r3.Vector
	for _, nb := range nbrs {
		c = c.Add(points[nb.Index])
	}
	c = c.Mul(1 / float64(len(nbrs)))

	var xx, xy, xz, yy, yz, zz float64
	for _, nb := range nbrs {
		d := points[nb.Index].Sub(c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	cov.SetSym(0, 0, xx)
	cov.SetSym(0, 1, xy)
	cov.SetSym(0, 2, xz)
	cov.SetSym(1, 1, yy)
	cov.SetSym(1, 2, yz)
	cov.SetSym(2, 2, zz)

	if !eig.Factorize(cov, true) {
		return r3.Vector{}, false
	}
	// Eigenvalues come back in ascending order.
	eig.VectorsTo(vecs)
	v := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	l := v.Norm()
	if l == 0 {
		return r3.Vector{}, false
	}
	return v.Mul(1 / l), true
}
