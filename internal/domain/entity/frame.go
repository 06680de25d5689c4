package entity

import "time"

// VideoInfo describes a probed source video.
type VideoInfo struct {
	FPS        float64
	FrameCount int
	Duration   time.Duration
	Width      int
	Height     int
}

// Frame is one sampled frame persisted to the workspace.
type Frame struct {
	Index int
	Path  string
}

// FrameSet is the ordered output of frame sampling.
type FrameSet struct {
	Frames []Frame
	Stride int
	Source VideoInfo
}

func (fs *FrameSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.Frames)
}

// Paths returns the stored image paths in index order.
func (fs *FrameSet) Paths() []string {
	out := make([]string, 0, fs.Len())
	for _, f := range fs.Frames {
		out = append(out, f.Path)
	}
	return out
}
