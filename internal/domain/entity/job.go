package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is the persisted record of one reconstruction request handled by the
// worker.
type Job struct {
	ID            uuid.UUID
	UserID        string
	VideoKey      string
	MeshKey       string
	BundleKey     string
	Status        JobStatus
	Stage         Stage
	TargetFPS     float64
	FrameCount    int
	VertexCount   int
	TriangleCount int
	FileSize      int64
	Attempt       int
	MaxAttempts   int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func NewJob(userID, videoKey string, fileSize int64, targetFPS float64, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		UserID:      userID,
		VideoKey:    videoKey,
		FileSize:    fileSize,
		TargetFPS:   targetFPS,
		Status:      JobStatusPending,
		Stage:       StageInit,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Stage = StageInit
	j.Attempt++
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

// MarkCompleted records the outputs of a successful run.
func (j *Job) MarkCompleted(meshKey, bundleKey string, frames, vertices, triangles int) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.Stage = StageDone
	j.MeshKey = meshKey
	j.BundleKey = bundleKey
	j.FrameCount = frames
	j.VertexCount = vertices
	j.TriangleCount = triangles
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkFailed records the failure and the last stage the run reached.
func (j *Job) MarkFailed(stage Stage, errMsg string) {
	j.Status = JobStatusFailed
	if stage != "" {
		j.Stage = stage
	}
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// ExhaustRetries prevents any further attempt. Pipeline failures are
// deterministic, so running them again gives the same outcome.
func (j *Job) ExhaustRetries() {
	j.MaxAttempts = j.Attempt
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}

// StatusMessage builds the outbound status notification for j.
func (j *Job) StatusMessage() ReconstructionStatusMessage {
	return ReconstructionStatusMessage{
		JobID:         j.ID,
		UserID:        j.UserID,
		Status:        j.Status,
		Stage:         j.Stage,
		VideoKey:      j.VideoKey,
		MeshKey:       j.MeshKey,
		BundleKey:     j.BundleKey,
		FrameCount:    j.FrameCount,
		VertexCount:   j.VertexCount,
		TriangleCount: j.TriangleCount,
		ErrorMessage:  j.ErrorMessage,
		Attempt:       j.Attempt,
		MaxAttempts:   j.MaxAttempts,
	}
}
