// Package geometry holds the point cloud and mesh types, a k-d tree index
// over point clouds and the PLY codec.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Color is an 8-bit RGB triple.
type Color [3]uint8

// PointCloud is an unordered set of points. Normals and Colors are either
// nil or parallel to Points.
type PointCloud struct {
	Points  []r3.Vector
	Normals []r3.Vector
	Colors  []Color
}

func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

func (pc *PointCloud) HasNormals() bool {
	return pc != nil && len(pc.Normals) == len(pc.Points) && len(pc.Points) > 0
}
func (pc *PointCloud) HasColors() bool {
	return pc != nil && len(pc.Colors) == len(pc.Points) && len(pc.Points) > 0
}

// Validate checks that the optional attributes line up with the points.
func (pc *PointCloud) Validate() error {
	if pc.Normals != nil && len(pc.Normals) != len(pc.Points) {
		return fmt.Errorf("point cloud has %d points but %d normals", len(pc.Points), len(pc.Normals))
	}
	if pc.Colors != nil && len(pc.Colors) != len(pc.Points) {
		return fmt.Errorf("point cloud has %d points but %d colors", len(pc.Points), len(pc.Colors))
	}
	return nil
}

// Select returns a new cloud made of the points at the given indices, in
// order, carrying their attributes along.
func (pc *PointCloud) Select(indices []int) *PointCloud {
	out := &PointCloud{Points: make([]r3.Vector, len(indices))}
	if pc.HasNormals() {
		out.Normals = make([]r3.Vector, len(indices))
	}
	if pc.HasColors() {
		out.Colors = make([]Color, len(indices))
	}
	for i, idx := range indices {
		out.Points[i] = pc.Points[idx]
		if out.Normals != nil {
			out.Normals[i] = pc.Normals[idx]
		}
		if out.Colors != nil {
			out.Colors[i] = pc.Colors[idx]
		}
	}
	return out
}

// Bounds returns the axis aligned bounding box of the cloud.
func (pc *PointCloud) Bounds() (Box, bool) {
	return BoundsOf(pc.Points)
}

// Box is an axis aligned bounding box.
type Box struct {
	Min, Max r3.Vector
}

func BoundsOf(points []r3.Vector) (Box, bool) {
	if len(points) == 0 {
		return Box{}, false
	}
	b := Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min = r3.Vector{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vector{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b, true
}

func (b Box) Center() r3.Vector { return b.Min.Add(b.Max).Mul(0.5) }
func (b Box) Size() r3.Vector   { return b.Max.Sub(b.Min) }

// MaxExtent is the length of the longest side.
func (b Box) MaxExtent() float64 {
	s := b.Size()
	return math.Max(s.X, math.Max(s.Y, s.Z))
}
