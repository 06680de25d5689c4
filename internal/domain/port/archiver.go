package port

import "context"

// Archiver packs workspace files into a single zip. Names are stored
// relative to baseDir.
type Archiver interface {
	CreateZip(ctx context.Context, baseDir string, filePaths []string, outputPath string) error
}
