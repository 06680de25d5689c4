package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO reconstruction_jobs (
			id, user_id, video_key, mesh_key, bundle_key, status, stage,
			target_fps, frame_count, vertex_count, triangle_count,
			file_size, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.MeshKey, job.BundleKey,
		string(job.Status), string(job.Stage),
		job.TargetFPS, job.FrameCount, job.VertexCount, job.TriangleCount,
		job.FileSize, job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE reconstruction_jobs SET
			status=$2, stage=$3, mesh_key=$4, bundle_key=$5,
			frame_count=$6, vertex_count=$7, triangle_count=$8,
			attempt=$9, max_attempts=$10, error_message=$11,
			updated_at=$12, completed_at=$13
		WHERE id=$1`

	tag, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), string(job.Stage), job.MeshKey, job.BundleKey,
		job.FrameCount, job.VertexCount, job.TriangleCount,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, port.ErrJobNotFound)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, video_key, mesh_key, bundle_key, status, stage,
			target_fps, frame_count, vertex_count, triangle_count,
			file_size, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		FROM reconstruction_jobs WHERE id=$1`

	job := &entity.Job{}
	var status, stage string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.MeshKey, &job.BundleKey,
		&status, &stage,
		&job.TargetFPS, &job.FrameCount, &job.VertexCount, &job.TriangleCount,
		&job.FileSize, &job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	job.Stage = entity.Stage(stage)
	return job, nil
}
