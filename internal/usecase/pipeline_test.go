package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var allEngineCalls = []string{"ExtractFeatures", "MatchFeatures", "MapSparse", "Undistort", "DenseStereo", "Fuse"}

type pipelineFixture struct {
	sampler  *fakeSampler
	engine   *recordingEngine
	builder  *fakeBuilder
	observer *recordingObserver
	pipeline *Pipeline
	req      RunRequest
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		sampler:  &fakeSampler{frames: 5},
		engine:   &recordingEngine{},
		builder:  &fakeBuilder{},
		observer: &recordingObserver{},
	}
	f.pipeline = NewPipeline(f.sampler, f.engine, f.builder, WithObservers(f.observer))
	f.req = RunRequest{
		VideoPath:  filepath.Join(t.TempDir(), "flight.mp4"),
		OutputDir:  t.TempDir(),
		TargetRate: 2,
		MeshName:   "mesh.ply",
	}
	return f
}

func stagesOf(results []entity.StageResult) []entity.Stage {
	out := make([]entity.Stage, len(results))
	for i, r := range results {
		out[i] = r.Stage
	}
	return out
}

func TestPipelineRunSuccess(t *testing.T) {
	f := newPipelineFixture(t)

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)

	successPath := entity.Stages()[1:]
	assert.Equal(t, entity.StageDone, res.Report.Stage)
	assert.Equal(t, successPath, stagesOf(res.Report.Results))
	assert.Equal(t, allEngineCalls, f.engine.calls)
	assert.Equal(t, 1, f.builder.calls)

	assert.Equal(t, filepath.Join(f.req.OutputDir, "mesh.ply"), res.MeshPath)
	assert.FileExists(t, res.MeshPath)
	assert.Equal(t, 5, res.Frames.Len())
	require.NotNil(t, res.Mesh)
	assert.Equal(t, 76, res.Mesh.Triangles)

	assert.Equal(t, successPath, f.observer.started)
	assert.Equal(t, successPath, stagesOf(f.observer.done))
	assert.Equal(t, 5, res.Report.Results[0].Detail["frames"])
	assert.Equal(t, 3, res.Report.Results[7].Detail["outliers_removed"])

	_, failed := res.Report.Failed()
	assert.False(t, failed)
	assertUnlocked(t, f.req.OutputDir)
}

func TestPipelineStopsAtFailedEngineStage(t *testing.T) {
	f := newPipelineFixture(t)
	f.engine.failAt = "MapSparse"

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrStageExecution)

	se, ok := entity.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StageSparseReconstructed, se.Stage)
	assert.Contains(t, se.Diagnostics, "MapSparse exploded")

	assert.Equal(t, []string{"ExtractFeatures", "MatchFeatures", "MapSparse"}, f.engine.calls)
	assert.Zero(t, f.builder.calls)
	assert.Equal(t, entity.StageFailed, res.Report.Stage)

	last, failed := res.Report.Failed()
	require.True(t, failed)
	assert.Equal(t, entity.StageSparseReconstructed, last.Stage)
	assert.NotEmpty(t, last.Error)
	assert.Empty(t, res.MeshPath)

	require.NotEmpty(t, f.observer.done)
	assert.Error(t, f.observer.done[len(f.observer.done)-1].Err)
	assertUnlocked(t, f.req.OutputDir)
}

func TestPipelineRejectsTooFewFrames(t *testing.T) {
	f := newPipelineFixture(t)
	f.sampler.frames = 2

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrValidation)
	se, ok := entity.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StageFramesExtracted, se.Stage)

	assert.Empty(t, f.engine.calls)
	assert.Equal(t, entity.StageFailed, res.Report.Stage)
	assert.Nil(t, res.Frames)
}

func TestPipelineSamplerErrorKeepsKind(t *testing.T) {
	f := newPipelineFixture(t)
	f.sampler.err = entity.NewIOError("probe", errors.New("no such file"))

	_, err := f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrIO)
	se, ok := entity.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StageFramesExtracted, se.Stage)
	assert.Empty(t, f.engine.calls)
}

func TestPipelineValidatesRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunRequest)
	}{
		{"empty video", func(r *RunRequest) { r.VideoPath = "" }},
		{"empty output", func(r *RunRequest) { r.OutputDir = "" }},
		{"zero rate", func(r *RunRequest) { r.TargetRate = 0 }},
		{"negative rate", func(r *RunRequest) { r.TargetRate = -1 }},
		{"mesh in subdir", func(r *RunRequest) { r.MeshName = "../mesh.ply" }},
		{"mesh not ply", func(r *RunRequest) { r.MeshName = "mesh.obj" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			tt.mutate(&f.req)

			res, err := f.pipeline.Run(context.Background(), f.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, entity.ErrValidation)
			assert.Equal(t, entity.StageFailed, res.Report.Stage)
			assert.Zero(t, f.sampler.calls)
			assert.Empty(t, f.observer.started)
		})
	}
}

func assertUnlocked(t *testing.T, dir string) {
	t.Helper()
	lock, err := workspace.New(dir).Lock()
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestPipelineRefusesBusyWorkspace(t *testing.T) {
	f := newPipelineFixture(t)
	ws := workspace.New(f.req.OutputDir)
	require.NoError(t, ws.Ensure())
	lock, err := ws.Lock()
	require.NoError(t, err)
	defer lock.Release()

	_, err = f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrWorkspaceBusy)
	assert.Zero(t, f.sampler.calls)
}

func TestPipelineResumeSkipsCompletedStages(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)

	f.engine.calls = nil
	f.sampler.calls = 0
	f.builder.calls = 0
	f.req.Resume = true

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)
	assert.Empty(t, f.engine.calls)
	assert.Zero(t, f.sampler.calls)
	assert.Zero(t, f.builder.calls)
	for _, r := range res.Report.Results {
		assert.True(t, r.Skipped, r.Stage)
	}
	assert.Equal(t, 5, res.Frames.Len())
	assert.Equal(t, entity.StageDone, res.Report.Stage)
}

func TestPipelineResumeRerunsFromFirstMissingArtifact(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)

	ws := workspace.New(f.req.OutputDir)
	require.NoError(t, os.Remove(ws.FusedPath()))
	f.engine.calls = nil
	f.builder.calls = 0
	f.req.Resume = true

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuse"}, f.engine.calls)
	assert.Equal(t, 1, f.builder.calls)

	var skipped []entity.Stage
	for _, r := range res.Report.Results {
		if r.Skipped {
			skipped = append(skipped, r.Stage)
		}
	}
	assert.Equal(t, entity.Stages()[1:7], skipped)
}

func TestPipelineWithoutResumeRunsEverything(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)

	f.engine.calls = nil
	_, err = f.pipeline.Run(context.Background(), f.req)
	require.NoError(t, err)
	assert.Equal(t, allEngineCalls, f.engine.calls)
	assert.Equal(t, 2, f.sampler.calls)
}

func TestPipelineChecksPreviousArtifact(t *testing.T) {
	f := newPipelineFixture(t)
	f.engine.noArtifact = "MapSparse"

	_, err := f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	se, ok := entity.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, entity.StageUndistorted, se.Stage)
	assert.Equal(t, "precondition", se.Op)
	assert.Equal(t, []string{"ExtractFeatures", "MatchFeatures", "MapSparse"}, f.engine.calls)
}

func TestPipelineCancellation(t *testing.T) {
	f := newPipelineFixture(t)
	f.engine.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := f.pipeline.Run(ctx, f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, entity.StageFailed, res.Report.Stage)
	assert.Equal(t, []string{"ExtractFeatures"}, f.engine.calls)
}

func TestPipelineMeshFailureKeepsReport(t *testing.T) {
	f := newPipelineFixture(t)
	f.builder.err = entity.NewReconstructionError("poisson", "no surface crossing")

	res, err := f.pipeline.Run(context.Background(), f.req)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrReconstruction)
	se, _ := entity.AsStageError(err)
	assert.Equal(t, entity.StageMeshed, se.Stage)
	require.NotNil(t, res.Mesh)
	assert.Equal(t, 100, res.Mesh.InputPoints)
}

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := NewLogObserver(zap.New(core))

	o.OnStageStart(entity.StageMatched)
	o.OnStageDone(entity.StageResult{Stage: entity.StageMatched, Duration: time.Second, Detail: map[string]any{"b": 2, "a": 1}})
	o.OnStageDone(entity.StageResult{Stage: entity.StageFused, Skipped: true})
	o.OnStageDone(entity.StageResult{
		Stage: entity.StageFused,
		Err:   entity.NewStageExecutionError(entity.StageFused, "stereo_fusion", "out of memory", errors.New("exit status 1")),
	})

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "stage finished", entries[1].Message)
	assert.Equal(t, []string{"stage", "took", "a", "b"}, fieldKeys(entries[1].Context))
	assert.Equal(t, "stage skipped, output already complete", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "out of memory", entries[3].ContextMap()["diagnostics"])
}

func TestObserversIgnoresNil(t *testing.T) {
	rec := &recordingObserver{}
	o := Observers(nil, rec)
	o.OnStageStart(entity.StageInit)
	o.OnStageDone(entity.StageResult{Stage: entity.StageInit})
	assert.Len(t, rec.started, 1)
	assert.Len(t, rec.done, 1)
}

func fieldKeys(fields []zapcore.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Key
	}
	return out
}
