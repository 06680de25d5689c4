package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/arrajeevchandar/aerominds/internal/infra/ffmpeg"
	"github.com/spf13/cobra"
)

var probeOpts struct {
	input   string
	fps     float64
	ffmpeg  string
	ffprobe string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show how a video would be sampled",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		sampler, err := ffmpeg.NewSampler(ffmpeg.SamplerConfig{
			FFmpegPath:  probeOpts.ffmpeg,
			FFprobePath: probeOpts.ffprobe,
		}, log)
		if err != nil {
			return err
		}
		info, err := sampler.Probe(cmd.Context(), probeOpts.input)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "video\t%s\n", probeOpts.input)
		fmt.Fprintf(tw, "size\t%dx%d\n", info.Width, info.Height)
		fmt.Fprintf(tw, "fps\t%.3f\n", info.FPS)
		fmt.Fprintf(tw, "frames\t%d\n", info.FrameCount)
		fmt.Fprintf(tw, "duration\t%s\n", info.Duration)
		fmt.Fprintf(tw, "target rate\t%g Hz\n", probeOpts.fps)
		fmt.Fprintf(tw, "stride\t%d\n", ffmpeg.Stride(info.FPS, probeOpts.fps))
		fmt.Fprintf(tw, "expected frames\t%d\n", ffmpeg.ExpectedFrameCount(*info, probeOpts.fps))
		return tw.Flush()
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVarP(&probeOpts.input, "input", "i", "", "Path to the input video")
	f.Float64Var(&probeOpts.fps, "fps", 2, "Frames sampled per second of video")
	f.StringVar(&probeOpts.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg executable")
	f.StringVar(&probeOpts.ffprobe, "ffprobe", "ffprobe", "ffprobe executable")
	_ = probeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(probeCmd)
}
