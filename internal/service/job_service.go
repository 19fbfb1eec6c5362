package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/media"
	"github.com/framesight/api/internal/model"
	"github.com/framesight/api/internal/store"
)

// TaskTypeDetect is the asynq task enqueued as a wake-up signal when a job
// becomes claimable. The handler re-runs the store's claim compare-and-set,
// so the queue only lowers pickup latency and never bypasses the claim.
const TaskTypeDetect = "detect:process"

var (
	// ErrNotReady is returned when an artifact is requested before the
	// job has succeeded.
	ErrNotReady = errors.New("job not ready")
	// ErrUnsupportedMedia is returned when the uploaded bytes decode to
	// a format outside the accepted set.
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrInvalidMedia is returned when the uploaded bytes cannot be
	// decoded at all.
	ErrInvalidMedia = errors.New("invalid media file")
)

// CreateJobInput carries a validated upload into job creation.
type CreateJobInput struct {
	Filename    string
	ContentType string
	TaskType    model.TaskType
	Conf        *float64
	IoU         *float64
	ImgSize     *int
	File        io.Reader
}

// JobService manages the job lifecycle on the API side: creation, reads,
// and artifact access. All mutation after queued belongs to the worker.
type JobService struct {
	store       store.Store
	artifacts   artifact.Store
	asynqClient *asynq.Client
}

// NewJobService creates a job service. asynqClient may be nil, in which
// case workers rely on polling alone.
func NewJobService(st store.Store, artifacts artifact.Store, asynqClient *asynq.Client) *JobService {
	return &JobService{
		store:       st,
		artifacts:   artifacts,
		asynqClient: asynqClient,
	}
}

// CreateJob records a new job, durably stores the upload, validates the
// media, and transitions the job to queued. On any validation failure the
// provisional record and input blob are removed so nothing is left behind.
func (s *JobService) CreateJob(ctx context.Context, in CreateJobInput) (*model.Job, error) {
	kind, ok := model.KindForContentType(in.ContentType)
	if !ok {
		return nil, ErrUnsupportedMedia
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.New().String(),
		Status:      model.JobStatusUploading,
		TaskType:    in.TaskType,
		CreatedAt:   now,
		UpdatedAt:   now,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Conf:        in.Conf,
		IoU:         in.IoU,
		ImgSize:     in.ImgSize,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	inputPath, size, err := s.artifacts.SaveInput(ctx, job.ID, extForContentType(in.ContentType), in.File)
	if err != nil {
		s.discard(ctx, job.ID, "")
		return nil, fmt.Errorf("save upload: %w", err)
	}

	fin := store.UploadFinal{
		ContentType: in.ContentType,
		SizeBytes:   size,
		InputPath:   inputPath,
	}

	if kind == model.MediaKindImage {
		info, err := s.probeInput(ctx, inputPath)
		if err != nil {
			s.discard(ctx, job.ID, inputPath)
			return nil, ErrInvalidMedia
		}
		if _, ok := model.AllowedImageTypes[info.ContentType]; !ok {
			s.discard(ctx, job.ID, inputPath)
			return nil, ErrUnsupportedMedia
		}
		fin.ContentType = info.ContentType
		fin.ImageWidth = &info.Width
		fin.ImageHeight = &info.Height
	}

	job, err = s.store.FinalizeUpload(ctx, job.ID, fin)
	if err != nil {
		s.discard(ctx, job.ID, inputPath)
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	s.notifyWorkers(job.ID)
	return job, nil
}

// GetJob returns the current job record.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// OpenArtifact streams a committed artifact for a succeeded job. Returns
// store.ErrNotFound for unknown ids, ErrNotReady before success, and
// artifact.ErrNotFound when this artifact kind was never produced.
func (s *JobService) OpenArtifact(ctx context.Context, id string, kind artifact.Kind) (io.ReadCloser, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusSucceeded {
		return nil, ErrNotReady
	}
	return s.artifacts.Open(ctx, id, kind)
}

// AnnotatedKind returns the artifact kind holding the job's annotated
// rendering, based on the input's media kind.
func AnnotatedKind(job *model.Job) artifact.Kind {
	if job.MediaKind() == model.MediaKindVideo {
		return artifact.KindAnnotatedVideo
	}
	return artifact.KindAnnotatedImage
}

func (s *JobService) probeInput(ctx context.Context, path string) (*media.ImageInfo, error) {
	rc, err := s.artifacts.OpenInput(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return media.ProbeImage(data)
}

// discard rolls back a provisional job after a failed upload.
func (s *JobService) discard(ctx context.Context, jobID, inputPath string) {
	if inputPath != "" {
		if err := s.artifacts.RemoveInput(ctx, inputPath); err != nil {
			log.Printf("Failed to remove input for job %s: %v", jobID, err)
		}
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		log.Printf("Failed to delete provisional job %s: %v", jobID, err)
	}
}

// notifyWorkers nudges a worker to attempt a claim without waiting for the
// next poll tick. Best effort: the polling loop picks the job up anyway.
func (s *JobService) notifyWorkers(jobID string) {
	if s.asynqClient == nil {
		return
	}
	task, err := NewDetectTask(jobID)
	if err != nil {
		log.Printf("Failed to build detect task for job %s: %v", jobID, err)
		return
	}
	if _, err := s.asynqClient.Enqueue(task, asynq.Queue("detect"), asynq.MaxRetry(0), asynq.Retention(time.Hour)); err != nil {
		log.Printf("Failed to enqueue detect task for job %s: %v", jobID, err)
	}
}

// DetectTaskPayload is the asynq payload for TaskTypeDetect.
type DetectTaskPayload struct {
	JobID string `json:"jobId"`
}

// NewDetectTask builds the wake-up task for a queued job.
func NewDetectTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(DetectTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDetect, data), nil
}

func extForContentType(ct string) string {
	if ext, ok := model.AllowedImageTypes[ct]; ok {
		return ext
	}
	if ext, ok := model.AllowedVideoTypes[ct]; ok {
		return ext
	}
	return ".bin"
}
