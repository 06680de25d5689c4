package port

import "context"

// EnginePaths are the workspace locations an engine stage reads and writes.
type EnginePaths struct {
	ImagesDir    string
	DatabasePath string
	SparseDir    string
	SparseModel  string
	DenseDir     string
	FusedPath    string
}

// ReconstructionEngine is the external structure-from-motion and
// multi-view-stereo collaborator. Every call blocks until the stage has
// finished and its output artifact is on disk.
type ReconstructionEngine interface {
	ExtractFeatures(ctx context.Context, p EnginePaths) error
	MatchFeatures(ctx context.Context, p EnginePaths) error
	MapSparse(ctx context.Context, p EnginePaths) error
	Undistort(ctx context.Context, p EnginePaths) error
	DenseStereo(ctx context.Context, p EnginePaths) error
	Fuse(ctx context.Context, p EnginePaths) error
}
