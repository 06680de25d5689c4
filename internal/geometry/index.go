package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a search hit: the index of a point in the indexed cloud and
// its Euclidean distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// Index is a k-d tree over a fixed set of points. Queries are safe for
// concurrent use.
type Index struct {
	tree   *kdtree.Tree
	points []r3.Vector
}

func NewIndex(points []r3.Vector) *Index {
	items := make(indexedPoints, len(points))
	for i, p := range points {
		items[i] = indexedPoint{v: p, idx: i}
	}
	return &Index{tree: kdtree.New(items, false), points: points}
}

func (ix *Index) Len() int { return len(ix.points) }

// KNearest returns up to k points closest to q, nearest first. Equal
// distances are ordered by index.
func (ix *Index) KNearest(q r3.Vector, k int) []Neighbor {
	if k <= 0 || ix.Len() == 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, indexedPoint{v: q, idx: -1})
	return collect(keep.Heap)
}

// KNearestOf returns the k nearest neighbours of the i-th indexed point,
// excluding the point itself.
func (ix *Index) KNearestOf(i, k int) []Neighbor {
	hits := ix.KNearest(ix.points[i], k+1)
	out := hits[:0]
	for _, h := range hits {
		if h.Index != i {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Hybrid returns at most maxNN points within radius of q, nearest first.
func (ix *Index) Hybrid(q r3.Vector, radius float64, maxNN int) []Neighbor {
	hits := ix.KNearest(q, maxNN)
	for i, h := range hits {
		if h.Distance > radius {
			return hits[:i]
		}
	}
	return hits
}

// Radius returns every point within radius of q, nearest first.
func (ix *Index) Radius(q r3.Vector, radius float64) []Neighbor {
	if ix.Len() == 0 {
		return nil
	}
	keep := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keep, indexedPoint{v: q, idx: -1})
	return collect(keep.Heap)
}

func collect(h kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, c := range h {
		if c.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: c.Comparable.(indexedPoint).idx, Distance: math.Sqrt(c.Dist)})
	}
	sortNeighbors(out)
	return out
}

func sortNeighbors(ns []Neighbor) {
	// Insertion sort: result sets are small and already nearly ordered.
	for i := 1; i < len(ns); i++ {
		for j := i; j > 0 && lessNeighbor(ns[j], ns[j-1]); j-- {
			ns[j], ns[j-1] = ns[j-1], ns[j]
		}
	}
}

func lessNeighbor(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Index < b.Index
}

type indexedPoint struct {
	v   r3.Vector
	idx int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.v.X - q.v.X
	case 1:
		return p.v.Y - q.v.Y
	default:
		return p.v.Z - q.v.Z
	}
}

func (p indexedPoint) Dims() int { return 3 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.v.Sub(q.v).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return plane{Dim: d, indexedPoints: p}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
