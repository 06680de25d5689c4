package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/fsx"
	"github.com/arrajeevchandar/aerominds/internal/infra/colmap"
	"github.com/arrajeevchandar/aerominds/internal/infra/ffmpeg"
	"github.com/arrajeevchandar/aerominds/internal/meshing"
	"github.com/arrajeevchandar/aerominds/internal/usecase"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	Input      string
	Output     string
	FPS        float64
	Mesh       string
	Resume     bool
	Colmap     string
	GPU        bool
	FFmpeg     string
	FFprobe    string
	Quality    int
	Report     string
	NoProgress bool
	MapperArgs []string
	mesh       meshFlags
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconstruct a mesh from a video",
	Long: `Samples frames from the input video, runs the COLMAP reconstruction
stages in the output directory and writes the Poisson mesh next to them.
With --resume, stages whose output is already complete are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.Input, "input", "i", "", "Path to the input video")
	f.StringVarP(&runOpts.Output, "output", "o", "", "Workspace directory")
	f.Float64Var(&runOpts.FPS, "fps", 2, "Frames sampled per second of video")
	f.StringVar(&runOpts.Mesh, "mesh", "output_mesh.ply", "Mesh file name, written inside the workspace")
	f.BoolVar(&runOpts.Resume, "resume", false, "Skip stages completed by an earlier run")
	f.StringVar(&runOpts.Colmap, "colmap", "colmap", "COLMAP executable")
	f.BoolVar(&runOpts.GPU, "gpu", true, "Use the GPU for SIFT extraction and matching")
	f.StringVar(&runOpts.FFmpeg, "ffmpeg", "ffmpeg", "ffmpeg executable")
	f.StringVar(&runOpts.FFprobe, "ffprobe", "ffprobe", "ffprobe executable")
	f.IntVar(&runOpts.Quality, "jpeg-quality", 95, "JPEG quality of sampled frames")
	f.StringVar(&runOpts.Report, "report", "", "Write the run report as JSON to this file")
	f.BoolVar(&runOpts.NoProgress, "no-progress", false, "Disable the progress bar")
	f.StringSliceVar(&runOpts.MapperArgs, "mapper-arg", nil, "Extra argument passed to colmap mapper (repeatable)")
	runOpts.mesh.register(f)

	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, opts runOptions) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	meshOptions, err := opts.mesh.options()
	if err != nil {
		return err
	}

	sampler, err := ffmpeg.NewSampler(ffmpeg.SamplerConfig{
		FFmpegPath:  opts.FFmpeg,
		FFprobePath: opts.FFprobe,
		JPEGQuality: opts.Quality,
	}, log)
	if err != nil {
		return err
	}
	engineCfg := colmap.Config{Binary: opts.Colmap, UseGPU: opts.GPU}
	if len(opts.MapperArgs) > 0 {
		engineCfg.ExtraArgs = map[string][]string{"mapper": opts.MapperArgs}
	}
	engine, err := colmap.NewEngine(engineCfg, log)
	if err != nil {
		return err
	}

	pipelineOpts := []usecase.PipelineOption{usecase.WithLogger(log)}
	logObserver := usecase.NewLogObserver(log)
	if opts.NoProgress {
		pipelineOpts = append(pipelineOpts, usecase.WithObservers(logObserver))
	} else {
		pipelineOpts = append(pipelineOpts, usecase.WithObservers(logObserver, newProgressObserver(cmd.ErrOrStderr())))
	}
	pipeline := usecase.NewPipeline(sampler, engine, meshing.NewBuilder(meshOptions, log), pipelineOpts...)

	res, runErr := pipeline.Run(cmd.Context(), usecase.RunRequest{
		VideoPath:  opts.Input,
		OutputDir:  opts.Output,
		TargetRate: opts.FPS,
		MeshName:   opts.Mesh,
		Resume:     opts.Resume,
	})
	if opts.Report != "" && res != nil {
		if err := writeReport(opts.Report, res.Report); err != nil {
			log.Warn("failed to write run report", zap.String("path", opts.Report), zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nmesh written to %s\n", res.MeshPath)
	if res.Mesh != nil {
		fmt.Fprintf(out, "  frames %d, points %d (%d outliers removed), vertices %d, triangles %d\n",
			res.Frames.Len(), res.Mesh.InputPoints, res.Mesh.OutlierPoints, res.Mesh.Vertices, res.Mesh.Triangles)
	}
	fmt.Fprintln(out, summarize(res.Report))
	return nil
}

func writeReport(path string, report entity.RunReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(append(body, '\n'))
		return err
	})
}

// summarize renders one "stage took" pair per result.
func summarize(report entity.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  total %s:", report.Duration.Round(time.Millisecond))
	for _, r := range report.Results {
		if r.Stage == entity.StageDone {
			continue
		}
		took := r.Duration.Round(time.Millisecond).String()
		if r.Skipped {
			took = "skipped"
		}
		fmt.Fprintf(&b, " %s=%s", r.Stage, took)
	}
	return b.String()
}
