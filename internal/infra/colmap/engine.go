// Package colmap drives the COLMAP command line through the six stages
// between sampled frames and a fused point cloud.
package colmap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/infra/shell"
	"github.com/arrajeevchandar/aerominds/internal/workspace"
	"go.uber.org/zap"
)

var ErrEngineNotFound = errors.New("colmap executable not found")

type Config struct {
	Binary string
	UseGPU bool
	// ExtraArgs are appended to the command of the matching subcommand,
	// e.g. "mapper": {"--Mapper.num_threads", "8"}.
	ExtraArgs map[string][]string
}

type Engine struct {
	bin    string
	gpu    bool
	extra  map[string][]string
	logger *zap.Logger
}

var _ port.ReconstructionEngine = (*Engine)(nil)

// NewEngine resolves the COLMAP executable once.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Binary == "" {
		cfg.Binary = "colmap"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bin, err := shell.Resolve(cfg.Binary)
	if err != nil {
		return nil, entity.NewConfigurationError("resolve colmap", fmt.Errorf("%w: %s: %v", ErrEngineNotFound, cfg.Binary, err))
	}
	return &Engine{bin: bin, gpu: cfg.UseGPU, extra: cfg.ExtraArgs, logger: logger}, nil
}

func (e *Engine) gpuFlag() string {
	if e.gpu {
		return "1"
	}
	return "0"
}

// step is one COLMAP invocation and the stage its artifact completes.
type step struct {
	stage      entity.Stage
	subcommand string
	args       []string
	dirs       []string
}

func (e *Engine) ExtractFeatures(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageFeaturesExtracted,
		subcommand: "feature_extractor",
		args: []string{
			"--database_path", p.DatabasePath,
			"--image_path", p.ImagesDir,
			"--ImageReader.single_camera", "1",
			"--ImageReader.camera_model", "RADIAL",
			"--SiftExtraction.use_gpu", e.gpuFlag(),
		},
	})
}

func (e *Engine) MatchFeatures(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageMatched,
		subcommand: "exhaustive_matcher",
		args: []string{
			"--database_path", p.DatabasePath,
			"--SiftMatching.use_gpu", e.gpuFlag(),
		},
	})
}

func (e *Engine) MapSparse(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageSparseReconstructed,
		subcommand: "mapper",
		args: []string{
			"--database_path", p.DatabasePath,
			"--image_path", p.ImagesDir,
			"--output_path", p.SparseDir,
		},
		dirs: []string{p.SparseDir},
	})
}

func (e *Engine) Undistort(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageUndistorted,
		subcommand: "image_undistorter",
		args: []string{
			"--image_path", p.ImagesDir,
			"--input_path", p.SparseModel,
			"--output_path", p.DenseDir,
			"--output_type", "COLMAP",
		},
		dirs: []string{p.DenseDir},
	})
}

func (e *Engine) DenseStereo(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageDenseReconstructed,
		subcommand: "patch_match_stereo",
		args: []string{
			"--workspace_path", p.DenseDir,
			"--workspace_format", "COLMAP",
			"--PatchMatchStereo.geom_consistency", "true",
		},
	})
}

func (e *Engine) Fuse(ctx context.Context, p port.EnginePaths) error {
	return e.run(ctx, p, step{
		stage:      entity.StageFused,
		subcommand: "stereo_fusion",
		args: []string{
			"--workspace_path", p.DenseDir,
			"--workspace_format", "COLMAP",
			"--input_type", "geometric",
			"--output_path", p.FusedPath,
		},
	})
}

func (e *Engine) run(ctx context.Context, p port.EnginePaths, s step) error {
	for _, dir := range s.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return entity.NewIOError("create "+dir, err)
		}
	}

	args := append([]string{s.subcommand}, s.args...)
	args = append(args, e.extra[s.subcommand]...)
	cmd := shell.NewCommand(ctx, e.bin, args...).CombineOutput()

	log := e.logger.With(zap.String("stage", string(s.stage)), zap.String("subcommand", s.subcommand))
	log.Debug("running colmap", zap.Strings("args", args))
	start := time.Now()

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		log.Error("colmap failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return entity.NewStageExecutionError(s.stage, s.subcommand, cmd.Tail.String(), err)
	}
	if err := workspace.CheckArtifact(p, s.stage); err != nil {
		return entity.NewStageExecutionError(s.stage, s.subcommand, cmd.Tail.String(),
			fmt.Errorf("exited cleanly without its output: %w", err))
	}
	log.Info("colmap stage finished", zap.Duration("took", time.Since(start)))
	return nil
}
