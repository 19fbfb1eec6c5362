package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framesight/api/internal/model"
)

const jobColumns = `id, status, task_type, created_at, updated_at,
	filename, content_type, size_bytes, image_width, image_height,
	conf, iou, imgsz, progress, error_message,
	input_path, result_path, annotated_path`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, task_type, created_at, updated_at,
			filename, content_type, size_bytes, conf, iou, imgsz, progress, input_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Status, job.TaskType, job.CreatedAt, job.UpdatedAt,
		job.Filename, job.ContentType, job.SizeBytes, job.Conf, job.IoU, job.ImgSize,
		job.Progress, job.InputPath)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FinalizeUpload(ctx context.Context, id string, fin UploadFinal) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'queued', progress = 0,
		     content_type = $2, size_bytes = $3, input_path = $4,
		     image_width = $5, image_height = $6, updated_at = NOW()
		 WHERE id = $1 AND status = 'uploading'
		 RETURNING `+jobColumns,
		id, fin.ContentType, fin.SizeBytes, fin.InputPath, fin.ImageWidth, fin.ImageHeight)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}
	return job, nil
}

// ClaimNext claims the oldest queued job. SKIP LOCKED keeps concurrent
// workers from serializing on the same candidate row; the status guard in
// the outer UPDATE makes the queued->running transition a compare-and-set.
func (s *PostgresStore) ClaimNext(ctx context.Context) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'running', progress = 0, updated_at = NOW()
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 ) AND status = 'queued'
		 RETURNING `+jobColumns)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'running', progress = 0, updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'
		 RETURNING `+jobColumns, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) SetDimensions(ctx context.Context, id string, width, height int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET image_width = $2, image_height = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, width, height)
	if err != nil {
		return fmt.Errorf("set dimensions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetProgress uses GREATEST so progress never moves backwards even if
// updates from a slow video frame land out of order.
func (s *PostgresStore) SetProgress(ctx context.Context, id string, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = GREATEST(progress, $2), updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, progress)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id, resultPath, annotatedPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'succeeded', progress = 100,
		     result_path = $2, annotated_path = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, resultPath, annotatedPath)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'running')`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.Status, &j.TaskType, &j.CreatedAt, &j.UpdatedAt,
		&j.Filename, &j.ContentType, &j.SizeBytes, &j.ImageWidth, &j.ImageHeight,
		&j.Conf, &j.IoU, &j.ImgSize, &j.Progress, &j.ErrorMessage,
		&j.InputPath, &j.ResultPath, &j.AnnotatedPath)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
