package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/fsx"
	"github.com/arrajeevchandar/aerominds/internal/infra/shell"
	"github.com/arrajeevchandar/aerominds/internal/workspace"
	"go.uber.org/zap"
)

type SamplerConfig struct {
	FFmpegPath  string
	FFprobePath string
	JPEGQuality int
}

// Sampler extracts every n-th frame of a video by decoding it with ffmpeg
// into a raw RGB pipe. Only one frame is held in memory at a time.
type Sampler struct {
	ffmpeg  string
	ffprobe string
	quality int
	logger  *zap.Logger
}

// NewSampler resolves both tools once. A missing tool is a configuration
// error.
func NewSampler(cfg SamplerConfig, logger *zap.Logger) (*Sampler, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ffmpegBin, err := shell.Resolve(cfg.FFmpegPath)
	if err != nil {
		return nil, entity.NewConfigurationError("resolve ffmpeg", err)
	}
	ffprobeBin, err := shell.Resolve(cfg.FFprobePath)
	if err != nil {
		return nil, entity.NewConfigurationError("resolve ffprobe", err)
	}
	return &Sampler{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, quality: cfg.JPEGQuality, logger: logger}, nil
}

// Extract keeps the frames at positions 0, stride, 2*stride, ... and writes
// them to imagesDir as consecutive JPEG files.
func (s *Sampler) Extract(ctx context.Context, videoPath, imagesDir string, targetRate float64) (*entity.FrameSet, error) {
	if targetRate <= 0 {
		return nil, entity.NewValidationError("extract frames", "target rate must be positive, got %g", targetRate)
	}
	info, err := s.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, entity.NewIOError("create images dir", err)
	}

	stride := Stride(info.FPS, targetRate)
	log := s.logger.With(zap.String("video", videoPath))
	log.Info("sampling frames",
		zap.Float64("source_fps", info.FPS),
		zap.Int("source_frames", info.FrameCount),
		zap.Int("stride", stride),
		zap.Int("expected", ExpectedFrameCount(*info, targetRate)),
	)

	decodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmd := shell.NewCommand(decodeCtx, s.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-noautorotate",
		"-i", videoPath,
		"-map", "0:v:0",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, entity.NewIOError("ffmpeg pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, entity.NewConfigurationError("start ffmpeg", err)
	}

	set := &entity.FrameSet{Stride: stride, Source: *info}
	readErr := s.readFrames(stdout, info.Width, info.Height, stride, imagesDir, set)
	if readErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case readErr != nil:
		return nil, readErr
	case waitErr != nil:
		return nil, entity.NewStageExecutionError(entity.StageFramesExtracted, "ffmpeg decode", cmd.Tail.String(), waitErr)
	}

	if set.Len() < workspace.MinFrames {
		return nil, entity.NewValidationError("extract frames",
			"only %d frames sampled from %s at %g Hz, need at least %d", set.Len(), videoPath, targetRate, workspace.MinFrames)
	}
	log.Info("frames sampled", zap.Int("count", set.Len()))
	return set, nil
}

func (s *Sampler) readFrames(r io.Reader, width, height, stride int, imagesDir string, set *entity.FrameSet) error {
	frameSize := width * height * 3
	buf := make([]byte, frameSize)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	opts := &jpeg.Options{Quality: s.quality}

	for position := 0; ; position++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("truncated last frame ignored", zap.Int("position", position))
				return nil
			}
			return entity.NewIOError("read decoded frame", err)
		}
		if position%stride != 0 {
			continue
		}

		rgbToRGBA(buf, img.Pix)
		index := set.Len()
		path := filepath.Join(imagesDir, fmt.Sprintf(workspace.FramePattern, index))
		err := fsx.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
			return jpeg.Encode(w, img, opts)
		})
		if err != nil {
			return entity.NewIOError("write frame "+path, err)
		}
		set.Frames = append(set.Frames, entity.Frame{Index: index, Path: path})
	}
}

func rgbToRGBA(src, dst []byte) {
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
}
