package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/fsx"
	"github.com/arrajeevchandar/aerominds/internal/workspace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RunRequest describes one video to mesh run.
type RunRequest struct {
	VideoPath  string
	OutputDir  string
	TargetRate float64
	MeshName   string
	// Resume skips stages whose output an earlier run left complete.
	Resume bool
}

// RunResult is returned for failed runs too, so the trace is never lost.
type RunResult struct {
	MeshPath string
	Frames   *entity.FrameSet
	Mesh     *port.MeshReport
	Report   entity.RunReport
}

// Pipeline sequences frame sampling, the six engine stages and meshing over
// a single workspace. It stops at the first failure and never retries.
type Pipeline struct {
	sampler  port.FrameSampler
	engine   port.ReconstructionEngine
	builder  port.MeshBuilder
	observer port.Observer
	logger   *zap.Logger
}

type PipelineOption func(*Pipeline)

// WithObservers fans stage events out to every given observer.
func WithObservers(observers ...port.Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = Observers(observers...) }
}

func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(sampler port.FrameSampler, engine port.ReconstructionEngine, builder port.MeshBuilder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sampler:  sampler,
		engine:   engine,
		builder:  builder,
		observer: Observers(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pipelineStep does the work that takes a run into stage.
// resume, when set, restores what a skipped stage would have produced.
type pipelineStep struct {
	stage  entity.Stage
	run    func(ctx context.Context, ws *workspace.Workspace) (map[string]any, error)
	resume func(ws *workspace.Workspace) (map[string]any, error)
}

func (p *Pipeline) steps(req RunRequest, res *RunResult) []pipelineStep {
	engineStep := func(stage entity.Stage, call func(context.Context, port.EnginePaths) error) pipelineStep {
		return pipelineStep{stage: stage, run: func(ctx context.Context, ws *workspace.Workspace) (map[string]any, error) {
			return nil, call(ctx, ws.EnginePaths())
		}}
	}
	return []pipelineStep{
		{
			stage: entity.StageFramesExtracted,
			run: func(ctx context.Context, ws *workspace.Workspace) (map[string]any, error) {
				return p.sampleFrames(ctx, ws, req, res)
			},
			resume: func(ws *workspace.Workspace) (map[string]any, error) {
				return loadFrames(ws, res)
			},
		},
		{stage: entity.StageFeaturesExtracted, run: func(ctx context.Context, ws *workspace.Workspace) (map[string]any, error) {
			// A database from an earlier run would keep features of frames
			// that no longer exist.
			if err := os.Remove(ws.DatabasePath()); err != nil && !os.IsNotExist(err) {
				return nil, entity.NewIOError("remove stale database", err)
			}
			return nil, p.engine.ExtractFeatures(ctx, ws.EnginePaths())
		}},
		engineStep(entity.StageMatched, p.engine.MatchFeatures),
		engineStep(entity.StageSparseReconstructed, p.engine.MapSparse),
		engineStep(entity.StageUndistorted, p.engine.Undistort),
		engineStep(entity.StageDenseReconstructed, p.engine.DenseStereo),
		engineStep(entity.StageFused, p.engine.Fuse),
		{stage: entity.StageMeshed, run: func(ctx context.Context, ws *workspace.Workspace) (map[string]any, error) {
			return p.buildMesh(ctx, ws, req, res)
		}},
		{stage: entity.StageDone, run: func(context.Context, *workspace.Workspace) (map[string]any, error) {
			return nil, nil
		}},
	}
}

// Run drives req through every stage. On failure the returned result holds
// the trace up to and including the failed stage.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (res *RunResult, err error) {
	run := entity.NewPipelineRun()
	res = &RunResult{}
	defer func() { res.Report = run.Report() }()

	if err := validateRequest(req); err != nil {
		_ = run.Fail(entity.StageResult{Stage: entity.StageInit, StartedAt: time.Now().UTC()}, err)
		return res, err
	}

	ws := workspace.New(req.OutputDir)
	if err := ws.Ensure(); err != nil {
		_ = run.Fail(entity.StageResult{Stage: entity.StageInit, StartedAt: time.Now().UTC()}, err)
		return res, err
	}
	lock, err := ws.Lock()
	if err != nil {
		_ = run.Fail(entity.StageResult{Stage: entity.StageInit, StartedAt: time.Now().UTC()}, err)
		return res, err
	}
	defer func() { err = multierr.Append(err, lock.Release()) }()

	log := p.logger.With(zap.String("video", req.VideoPath), zap.String("workspace", ws.Root()))
	log.Info("pipeline started", zap.Float64("target_rate", req.TargetRate), zap.Bool("resume", req.Resume))

	tracer := otel.Tracer("usecase")
	resuming := req.Resume
	for _, step := range p.steps(req, res) {
		result, stepErr := p.runStep(ctx, tracer, ws, step, &resuming, req)
		if stepErr != nil {
			stepErr = entity.WithStage(step.stage, stepErr)
			result.Err = stepErr
			if failErr := run.Fail(result, stepErr); failErr != nil {
				return res, multierr.Append(stepErr, failErr)
			}
			p.observer.OnStageDone(result)
			log.Error("pipeline failed", zap.String("stage", string(step.stage)), zap.Error(stepErr))
			return res, stepErr
		}
		if advErr := run.Advance(result); advErr != nil {
			return res, advErr
		}
		p.observer.OnStageDone(result)
	}

	res.MeshPath = ws.MeshPath(req.MeshName)
	log.Info("pipeline finished", zap.String("mesh", res.MeshPath), zap.Duration("took", run.Report().Duration))
	return res, nil
}

// runStep executes or, when resuming, skips a single stage inside its own
// span. resuming is cleared at the first stage that has to run, since every
// later artifact then depends on fresh input.
func (p *Pipeline) runStep(ctx context.Context, tracer trace.Tracer, ws *workspace.Workspace, step pipelineStep, resuming *bool, req RunRequest) (result entity.StageResult, err error) {
	result = entity.StageResult{Stage: step.stage, StartedAt: time.Now().UTC()}
	p.observer.OnStageStart(step.stage)

	ctx, span := tracer.Start(ctx, "pipeline."+string(step.stage))
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		span.SetAttributes(attribute.Bool("pipeline.skipped", result.Skipped))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if *resuming && p.artifactReady(ws, step.stage, req) == nil && (step.stage == entity.StageDone || ws.Completed(step.stage)) {
		result.Skipped = true
		if step.resume != nil {
			result.Detail, err = step.resume(ws)
		}
		return result, err
	}
	*resuming = false

	if err := ctx.Err(); err != nil {
		return result, err
	}
	prev := previous(step.stage)
	if err := p.artifactReady(ws, prev, req); err != nil {
		return result, entity.NewStageExecutionError(step.stage, "precondition", "",
			fmt.Errorf("output of %s is missing: %w", prev, err))
	}
	if err := ws.Invalidate(step.stage); err != nil {
		return result, err
	}

	result.Detail, err = step.run(ctx, ws)
	if err != nil {
		return result, err
	}
	if step.stage != entity.StageDone {
		if err := ws.MarkComplete(step.stage); err != nil {
			return result, entity.NewIOError("mark stage complete", err)
		}
	}
	return result, nil
}

// artifactReady checks the output of stage, including the mesh which the
// workspace alone cannot name.
func (p *Pipeline) artifactReady(ws *workspace.Workspace, stage entity.Stage, req RunRequest) error {
	if stage == entity.StageMeshed {
		if path := ws.MeshPath(req.MeshName); !fsx.NonEmptyFile(path) {
			return fmt.Errorf("mesh %s missing or empty", path)
		}
		return nil
	}
	return ws.CheckArtifact(stage)
}

func previous(stage entity.Stage) entity.Stage {
	prev := entity.StageInit
	for _, s := range entity.Stages() {
		if s == stage {
			return prev
		}
		prev = s
	}
	return prev
}

func (p *Pipeline) sampleFrames(ctx context.Context, ws *workspace.Workspace, req RunRequest, res *RunResult) (map[string]any, error) {
	if err := ws.ClearFrames(); err != nil {
		return nil, err
	}
	set, err := p.sampler.Extract(ctx, req.VideoPath, ws.ImagesDir(), req.TargetRate)
	if err != nil {
		return nil, err
	}
	if set.Len() < workspace.MinFrames {
		return nil, entity.NewValidationError("sample frames",
			"%d frames sampled, need at least %d", set.Len(), workspace.MinFrames)
	}
	res.Frames = set
	return map[string]any{
		"frames":     set.Len(),
		"stride":     set.Stride,
		"source_fps": set.Source.FPS,
	}, nil
}

// loadFrames rebuilds the frame set of a resumed run from disk.
func loadFrames(ws *workspace.Workspace, res *RunResult) (map[string]any, error) {
	paths, err := ws.FramePaths()
	if err != nil {
		return nil, entity.NewIOError("list frames", err)
	}
	set := &entity.FrameSet{Frames: make([]entity.Frame, len(paths))}
	for i, path := range paths {
		set.Frames[i] = entity.Frame{Index: i, Path: path}
	}
	res.Frames = set
	return map[string]any{"frames": set.Len()}, nil
}

func (p *Pipeline) buildMesh(ctx context.Context, ws *workspace.Workspace, req RunRequest, res *RunResult) (map[string]any, error) {
	report, err := p.builder.Build(ctx, ws.FusedPath(), ws.MeshPath(req.MeshName))
	res.Mesh = report
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"input_points":     report.InputPoints,
		"outliers_removed": report.OutlierPoints,
		"depth":            report.Depth,
		"requested_depth":  report.RequestedDepth,
		"density_cutoff":   report.DensityCutoff,
		"vertices":         report.Vertices,
		"triangles":        report.Triangles,
	}, nil
}

func validateRequest(req RunRequest) error {
	switch {
	case req.VideoPath == "":
		return entity.NewValidationError("run request", "video path is empty")
	case req.OutputDir == "":
		return entity.NewValidationError("run request", "output directory is empty")
	case !(req.TargetRate > 0):
		return entity.NewValidationError("run request", "target rate must be positive, got %g", req.TargetRate)
	}
	if err := workspace.ValidMeshName(req.MeshName); err != nil {
		return entity.NewValidationError("run request", "%v", err)
	}
	return nil
}
