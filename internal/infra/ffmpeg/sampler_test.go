package ffmpeg

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTools writes ffprobe and ffmpeg stand-ins. The fake ffmpeg emits
// frames*width*height*3 bytes of raw video and exits with exitCode.
func fakeTools(t *testing.T, fps string, frames, width, height, exitCode int) SamplerConfig {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	probe := fmt.Sprintf(`#!/bin/sh
cat <<'JSON'
{"streams":[{"width":%d,"height":%d,"r_frame_rate":"%s","nb_frames":"%d"}],"format":{"duration":"1.0"}}
JSON
`, width, height, fps, frames)
	decode := fmt.Sprintf(`#!/bin/sh
head -c %d /dev/zero
echo "decoder finished" >&2
exit %d
`, frames*width*height*3, exitCode)

	cfg := SamplerConfig{
		FFprobePath: filepath.Join(dir, "ffprobe"),
		FFmpegPath:  filepath.Join(dir, "ffmpeg"),
	}
	require.NoError(t, os.WriteFile(cfg.FFprobePath, []byte(probe), 0o755))
	require.NoError(t, os.WriteFile(cfg.FFmpegPath, []byte(decode), 0o755))
	return cfg
}

func TestExtractKeepsEveryStrideFrame(t *testing.T) {
	cfg := fakeTools(t, "30/1", 10, 4, 2, 0)
	s, err := NewSampler(cfg, nil)
	require.NoError(t, err)

	images := filepath.Join(t.TempDir(), "images")
	set, err := s.Extract(context.Background(), "video.mp4", images, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, set.Stride)
	require.Equal(t, 4, set.Len())
	for i, f := range set.Frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, filepath.Join(images, fmt.Sprintf("frame_%06d.jpg", i)), f.Path)

		file, err := os.Open(f.Path)
		require.NoError(t, err)
		img, err := jpeg.Decode(file)
		file.Close()
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		assert.Equal(t, 2, img.Bounds().Dy())
	}
	assert.Equal(t, ExpectedFrameCount(set.Source, 10), set.Len())
}

func TestExtractTooFewFrames(t *testing.T) {
	cfg := fakeTools(t, "30/1", 20, 4, 2, 0)
	s, err := NewSampler(cfg, nil)
	require.NoError(t, err)

	_, err = s.Extract(context.Background(), "video.mp4", t.TempDir(), 2)
	assert.ErrorIs(t, err, entity.ErrValidation)
}

func TestExtractRejectsNonPositiveRate(t *testing.T) {
	cfg := fakeTools(t, "30/1", 20, 4, 2, 0)
	s, err := NewSampler(cfg, nil)
	require.NoError(t, err)

	_, err = s.Extract(context.Background(), "video.mp4", t.TempDir(), 0)
	assert.ErrorIs(t, err, entity.ErrValidation)
}

func TestExtractDecoderFailureCarriesStderr(t *testing.T) {
	cfg := fakeTools(t, "30/1", 10, 4, 2, 1)
	s, err := NewSampler(cfg, nil)
	require.NoError(t, err)

	_, err = s.Extract(context.Background(), "video.mp4", t.TempDir(), 10)
	require.ErrorIs(t, err, entity.ErrStageExecution)
	se, ok := entity.AsStageError(err)
	require.True(t, ok)
	assert.Contains(t, se.Diagnostics, "decoder finished")
}

func TestNewSamplerMissingBinary(t *testing.T) {
	_, err := NewSampler(SamplerConfig{FFmpegPath: "/nonexistent/ffmpeg"}, nil)
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}
