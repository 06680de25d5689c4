package ffmpeg

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/infra/shell"
)

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream's geometry, rate, length and frame
// count. A video that cannot be opened, or reports no usable rate or frames,
// is a validation error.
func (s *Sampler) Probe(ctx context.Context, videoPath string) (*entity.VideoInfo, error) {
	cmd := shell.NewCommand(ctx, s.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, entity.NewValidationError("probe", "cannot open video %s: %v: %s", videoPath, err, cmd.Tail.String())
	}
	return parseProbe(videoPath, out)
}

func parseProbe(videoPath string, raw []byte) (*entity.VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, entity.NewValidationError("probe", "unreadable ffprobe output for %s: %v", videoPath, err)
	}
	if len(res.Streams) == 0 {
		return nil, entity.NewValidationError("probe", "%s has no video stream", videoPath)
	}
	st := res.Streams[0]

	fps := parseRate(st.RFrameRate)
	if fps <= 0 {
		fps = parseRate(st.AvgFrameRate)
	}
	seconds := parseFloat(st.Duration)
	if seconds <= 0 {
		seconds = parseFloat(res.Format.Duration)
	}
	frames, _ := strconv.Atoi(st.NbFrames)
	if frames <= 0 && fps > 0 && seconds > 0 {
		frames = int(math.Round(seconds * fps))
	}

	info := &entity.VideoInfo{
		FPS:        fps,
		FrameCount: frames,
		Duration:   time.Duration(seconds * float64(time.Second)),
		Width:      st.Width,
		Height:     st.Height,
	}
	switch {
	case info.FPS <= 0:
		return nil, entity.NewValidationError("probe", "%s reports no frame rate", videoPath)
	case info.FrameCount <= 0:
		return nil, entity.NewValidationError("probe", "%s reports no frames", videoPath)
	case info.Width <= 0 || info.Height <= 0:
		return nil, entity.NewValidationError("probe", "%s reports no frame size", videoPath)
	}
	return info, nil
}

// parseRate reads ffprobe rates such as "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n := parseFloat(num)
	if !found {
		return n
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Stride is the sampling step that brings a source rate down to roughly the
// target rate. It is never below 1.
func Stride(sourceFPS, targetRate float64) int {
	if targetRate <= 0 || sourceFPS <= 0 {
		return 1
	}
	return max(1, int(math.Round(sourceFPS/targetRate)))
}

// ExpectedFrameCount is the number of frames Extract keeps for info at the
// given rate.
func ExpectedFrameCount(info entity.VideoInfo, targetRate float64) int {
	stride := Stride(info.FPS, targetRate)
	return (info.FrameCount + stride - 1) / stride
}
