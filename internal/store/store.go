package store

import (
	"context"
	"errors"

	"github.com/framesight/api/internal/model"
)

var (
	// ErrNotFound is returned when no job exists with the given id.
	ErrNotFound = errors.New("job not found")
	// ErrNoJobs is returned by ClaimNext when nothing is claimable.
	ErrNoJobs = errors.New("no claimable jobs")
	// ErrNotClaimable is returned when a claim loses the queued->running
	// compare-and-set, or targets a job that is not queued.
	ErrNotClaimable = errors.New("job not claimable")
	// ErrInvalidTransition is returned when an update would violate the
	// job lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// UploadFinal carries the metadata recorded when an upload becomes durable
// and the job moves from uploading to queued.
type UploadFinal struct {
	ContentType string
	SizeBytes   int64
	InputPath   string
	ImageWidth  *int
	ImageHeight *int
}

// Store is the durable job record store. The queued->running claim is the
// only synchronization point between concurrent workers and must be atomic.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// DeleteJob removes a provisional record whose upload failed
	// validation, so rejected uploads leave no job behind.
	DeleteJob(ctx context.Context, id string) error

	// FinalizeUpload transitions uploading -> queued and records the
	// upload metadata.
	FinalizeUpload(ctx context.Context, id string, fin UploadFinal) (*model.Job, error)

	// ClaimNext atomically claims the oldest queued job (FIFO) and
	// transitions it to running. Returns ErrNoJobs when the queue is empty.
	ClaimNext(ctx context.Context) (*model.Job, error)
	// ClaimJob attempts the same compare-and-set on a specific job.
	ClaimJob(ctx context.Context, id string) (*model.Job, error)

	// SetDimensions records the decoded media dimensions.
	SetDimensions(ctx context.Context, id string, width, height int) error
	// SetProgress advances progress on a running job. Progress never
	// decreases across any sequence of reads.
	SetProgress(ctx context.Context, id string, progress int) error

	// MarkSucceeded transitions running -> succeeded once both artifacts
	// have committed, setting progress to 100.
	MarkSucceeded(ctx context.Context, id, resultPath, annotatedPath string) error
	// MarkFailed transitions queued/running -> failed with a message.
	MarkFailed(ctx context.Context, id, errMsg string) error
}
