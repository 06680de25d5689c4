package port

import "context"

// MeshReport summarises a mesh build.
type MeshReport struct {
	InputPoints    int
	OutlierPoints  int
	FilteredPoints int
	// Depth is the solved Poisson depth; RequestedDepth the one asked for.
	Depth          int
	RequestedDepth int
	RawVertices    int
	RawTriangles   int
	DensityCutoff  float64
	PrunedVertices int
	Vertices       int
	Triangles      int
}

type MeshBuilder interface {
	Build(ctx context.Context, pointCloudPath, outputMeshPath string) (*MeshReport, error)
}
