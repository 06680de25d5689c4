package port

import (
	"context"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
)

// FrameSampler writes an evenly spaced subset of a video's frames into
// imagesDir.
type FrameSampler interface {
	Extract(ctx context.Context, videoPath, imagesDir string, targetRate float64) (*entity.FrameSet, error)
}
