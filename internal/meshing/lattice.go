package meshing

import (
	"math"

	"github.com/golang/geo/r3"
)

// lattice is a regular grid of (n+1)^3 nodes spanning a cube of side n*h.
// Node (i,j,k) sits at origin + h*(i,j,k); ids run x fastest.
type lattice struct {
	n      int
	res    int
	origin r3.Vector
	h      float64
}

func newLattice(origin r3.Vector, side float64, depth int) lattice {
	n := 1 << depth
	return lattice{n: n, res: n + 1, origin: origin, h: side / float64(n)}
}

func (l lattice) size() int           { return l.res * l.res * l.res }
func (l lattice) idx(i, j, k int) int { return (k*l.res+j)*l.res + i }

func (l lattice) coords(id int) (i, j, k int) {
	return id % l.res, (id / l.res) % l.res, id / (l.res * l.res)
}

func (l lattice) position(id int) r3.Vector {
	i, j, k := l.coords(id)
	return l.origin.Add(r3.Vector{X: float64(i) * l.h, Y: float64(j) * l.h, Z: float64(k) * l.h})
}

func (l lattice) inside(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i <= l.n && j <= l.n && k <= l.n
}

func (l lattice) boundary(i, j, k int) bool {
	return i == 0 || j == 0 || k == 0 || i == l.n || j == l.n || k == l.n
}

// corners calls fn for the eight nodes of the cell holding the point at
// grid coordinates g, with their trilinear weights. Points outside the grid
// are clamped onto it.
func (l lattice) corners(g [3]float64, fn func(id int, w float64)) {
	var c [3]int
	var f [3]float64
	for a, v := range g {
		fl := math.Floor(v)
		ci, fr := int(fl), v-fl
		if ci < 0 {
			ci, fr = 0, 0
		}
		if ci >= l.n {
			ci, fr = l.n-1, 1
		}
		c[a], f[a] = ci, fr
	}
	for b := 0; b < 8; b++ {
		w := 1.0
		var o [3]int
		for a := 0; a < 3; a++ {
			if b>>a&1 == 1 {
				o[a] = 1
				w *= f[a]
			} else {
				w *= 1 - f[a]
			}
		}
		if w == 0 {
			continue
		}
		fn(l.idx(c[0]+o[0], c[1]+o[1], c[2]+o[2]), w)
	}
}

// gridCoords maps a world position to fractional node coordinates.
func (l lattice) gridCoords(p r3.Vector) [3]float64 {
	rel := p.Sub(l.origin).Mul(1 / l.h)
	return [3]float64{rel.X, rel.Y, rel.Z}
}

func (l lattice) interpolate(field []float64, p r3.Vector) float64 {
	var v float64
	l.corners(l.gridCoords(p), func(id int, w float64) { v += w * field[id] })
	return v
}

// blur smooths field in place with a separable [1 2 1]/4 kernel, treating
// everything outside the grid as zero.
func (l lattice) blur(field []float64) {
	tmp := make([]float64, len(field))
	strides := [3]int{1, l.res, l.res * l.res}
	for a, s := range strides {
		for id := range field {
			i, j, k := l.coords(id)
			pos := [3]int{i, j, k}[a]
			v := 2 * field[id]
			if pos > 0 {
				v += field[id-s]
			}
			if pos < l.n {
				v += field[id+s]
			}
			tmp[id] = v / 4
		}
		copy(field, tmp)
	}
}

// prolong fills dst (on l) by trilinear interpolation of src, which lives
// on coarse, a lattice over the same cube with half the resolution.
func (l lattice) prolong(coarse lattice, src, dst []float64) {
	scale := float64(coarse.n) / float64(l.n)
	for id := range dst {
		i, j, k := l.coords(id)
		if l.boundary(i, j, k) {
			dst[id] = 0
			continue
		}
		g := [3]float64{float64(i) * scale, float64(j) * scale, float64(k) * scale}
		var v float64
		coarse.corners(g, func(cid int, w float64) { v += w * src[cid] })
		dst[id] = v
	}
}
