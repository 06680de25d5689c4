package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/infra/metrics"
	"github.com/arrajeevchandar/aerominds/internal/workspace"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runner is the part of Pipeline the worker depends on.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

type ReconstructJobUseCase struct {
	repo      port.JobRepository
	storage   port.ObjectStorage
	runner    Runner
	archiver  port.Archiver
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       ReconstructJobConfig
}

type ReconstructJobConfig struct {
	TempDir          string
	MaxRetries       int
	DefaultTargetFPS float64
	DefaultMeshName  string
	// KeepWorkspace leaves the job directory on disk after the job ends.
	KeepWorkspace bool
}

func NewReconstructJobUseCase(
	repo port.JobRepository,
	storage port.ObjectStorage,
	runner Runner,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ReconstructJobConfig,
) *ReconstructJobUseCase {
	if cfg.DefaultMeshName == "" {
		cfg.DefaultMeshName = "mesh.ply"
	}
	if cfg.DefaultTargetFPS <= 0 {
		cfg.DefaultTargetFPS = 2
	}
	return &ReconstructJobUseCase{
		repo:      repo,
		storage:   storage,
		runner:    runner,
		archiver:  archiver,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// Execute handles one delivery from the reconstruction queue. A nil return
// acks the message; an error asks the consumer to retry it later.
func (uc *ReconstructJobUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ReconstructJobUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.ReconstructionMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		uc.parkMessage(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if err := validateMessage(msg); err != nil {
		uc.logger.Error("rejecting invalid message", zap.Error(err), zap.ByteString("body", rawMsg))
		uc.parkMessage(ctx, rawMsg, err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	switch {
	case errors.Is(err, port.ErrJobNotFound):
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.targetFPS(msg), uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		log.Error("failed to load job record", zap.Error(err))
		return fmt.Errorf("find job: %w", err)
	}

	if job.Status == entity.JobStatusCompleted {
		log.Info("job already completed, dropping duplicate delivery")
		return nil
	}
	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		uc.handlePermanentFailure(ctx, job, msg, rawMsg, job.Stage, "max retries exceeded", "", log)
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	uc.publishStatus(ctx, job, log)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.reconstruct(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}
	if job.Status == entity.JobStatusCompleted {
		metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
		metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	}
	return nil
}

func (uc *ReconstructJobUseCase) reconstruct(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	// The job directory survives retries of the same job so the pipeline
	// can resume; it is removed once the job reaches a final state.
	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	final := false
	defer func() {
		if final && !uc.cfg.KeepWorkspace {
			if err := os.RemoveAll(workDir); err != nil {
				log.Warn("failed to remove job directory", zap.String("dir", workDir), zap.Error(err))
			}
		}
	}()

	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input"+videoExt(msg.VideoKey))
	err := uc.storage.DownloadVideo(dlCtx, msg.VideoKey, videoPath)
	spanDl.End()
	if err != nil {
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log, &final)
	}
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	req := RunRequest{
		VideoPath:  videoPath,
		OutputDir:  filepath.Join(workDir, "workspace"),
		TargetRate: uc.targetFPS(msg),
		MeshName:   uc.meshName(msg),
		Resume:     true,
	}
	runStart := time.Now()
	res, err := uc.runner.Run(ctx, req)
	metrics.JobProcessingDuration.WithLabelValues("pipeline").Observe(time.Since(runStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("pipeline interrupted, message will be redelivered", zap.Error(err))
			return fmt.Errorf("pipeline interrupted: %w", err)
		}
		if errors.Is(err, entity.ErrWorkspaceBusy) {
			// The directory belongs to the other run; never remove it here.
			log.Warn("job workspace held by another run", zap.Error(err))
			var owned bool
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "pipeline: "+err.Error(), log, &owned)
		}
		stage, diagnostics := entity.StageFailed, ""
		if se, ok := entity.AsStageError(err); ok {
			stage, diagnostics = se.Stage, se.Diagnostics
		}
		log.Error("pipeline failed", zap.String("stage", string(stage)), zap.Error(err))
		final = true
		uc.handlePermanentFailure(ctx, job, msg, rawMsg, stage, err.Error(), diagnostics, log)
		return nil
	}

	bundleStart := time.Now()
	bundleCtx, spanZip := tracer.Start(ctx, "create_bundle")
	ws := workspace.New(req.OutputDir)
	bundlePath := filepath.Join(workDir, "bundle.zip")
	err = uc.archiver.CreateZip(bundleCtx, ws.Root(), []string{ws.ImagesDir(), ws.SparseModel(), ws.FusedPath()}, bundlePath)
	spanZip.End()
	if err != nil {
		log.Error("bundle creation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "create_bundle: "+err.Error(), log, &final)
	}
	metrics.JobProcessingDuration.WithLabelValues("bundle").Observe(time.Since(bundleStart).Seconds())

	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_artifacts")
	prefix := path.Join(msg.UserID, job.ID.String())
	meshKey := path.Join(prefix, req.MeshName)
	bundleKey := path.Join(prefix, "artifacts.zip")
	err = multierr.Combine(
		uc.uploadFile(upCtx, meshKey, res.MeshPath, "application/x-ply"),
		uc.uploadFile(upCtx, bundleKey, bundlePath, "application/zip"),
	)
	spanUp.End()
	if err != nil {
		log.Error("artifact upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_artifacts: "+err.Error(), log, &final)
	}
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	var vertices, triangles int
	if res.Mesh != nil {
		vertices, triangles = res.Mesh.Vertices, res.Mesh.Triangles
	}
	job.MarkCompleted(meshKey, bundleKey, res.Frames.Len(), vertices, triangles)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}
	final = true

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", job.FrameCount),
		zap.Int("vertices", vertices),
		zap.Int("triangles", triangles),
		zap.String("mesh_key", meshKey),
		zap.Duration("pipeline_took", res.Report.Duration),
	)
	return nil
}

func (uc *ReconstructJobUseCase) uploadFile(ctx context.Context, key, filePath, contentType string) (err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	return uc.storage.UploadArtifact(ctx, key, f, stat.Size(), contentType)
}

func (uc *ReconstructJobUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
	final *bool,
) error {
	job.MarkFailed("", errMsg)

	if !job.CanRetry() {
		*final = true
		uc.handlePermanentFailure(ctx, job, msg, rawMsg, job.Stage, errMsg, "", log)
		return nil
	}
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to FAILED", zap.Error(err))
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

// handlePermanentFailure ends the job: no later delivery will run it again.
func (uc *ReconstructJobUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionMessage,
	rawMsg []byte,
	stage entity.Stage,
	errMsg string,
	diagnostics string,
	log *zap.Logger,
) {
	job.MarkFailed(stage, errMsg)
	job.ExhaustRetries()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to FAILED", zap.Error(err))
	}

	if err := uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg, stage); err != nil {
		log.Error("failed to publish to DLQ", zap.Error(err))
	}

	uc.publishStatus(ctx, job, log)

	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()

	if msg.UserEmail != "" {
		notice := port.FailureNotice{
			UserEmail:   msg.UserEmail,
			JobID:       job.ID.String(),
			VideoKey:    msg.VideoKey,
			Stage:       stage,
			Error:       errMsg,
			Diagnostics: diagnostics,
		}
		if err := uc.notifier.NotifyFailure(ctx, notice); err != nil {
			log.Error("failed to notify user", zap.Error(err))
		}
	}
}

func (uc *ReconstructJobUseCase) parkMessage(ctx context.Context, rawMsg []byte, reason string) {
	if err := uc.dlq.PublishToDLQ(ctx, rawMsg, reason, entity.StageInit); err != nil {
		uc.logger.Error("failed to publish to DLQ", zap.Error(err))
	}
	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()
}

func (uc *ReconstructJobUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	if err := uc.publisher.PublishStatus(ctx, job.StatusMessage()); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func (uc *ReconstructJobUseCase) targetFPS(msg entity.ReconstructionMessage) float64 {
	if msg.TargetFPS > 0 {
		return msg.TargetFPS
	}
	return uc.cfg.DefaultTargetFPS
}

func (uc *ReconstructJobUseCase) meshName(msg entity.ReconstructionMessage) string {
	if msg.MeshName != "" {
		return msg.MeshName
	}
	return uc.cfg.DefaultMeshName
}

func validateMessage(msg entity.ReconstructionMessage) error {
	switch {
	case msg.JobID == uuid.Nil:
		return errors.New("invalid message: job_id is missing")
	case msg.VideoKey == "":
		return errors.New("invalid message: video_key is missing")
	case msg.TargetFPS < 0:
		return fmt.Errorf("invalid message: target_fps %g is negative", msg.TargetFPS)
	}
	if msg.MeshName != "" {
		if err := workspace.ValidMeshName(msg.MeshName); err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}
	}
	return nil
}

func videoExt(key string) string {
	if ext := path.Ext(key); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".mp4"
}
