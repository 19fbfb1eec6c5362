package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/framesight/api/internal/model"
)

// MemoryStore is an in-process Store used by tests and single-binary dev
// setups. It honors the same transition guards and claim atomicity as the
// Postgres implementation, with a mutex standing in for the database's
// conditional update.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seq  map[string]int
	next int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
		seq:  make(map[string]int),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	s.seq[job.ID] = s.next
	s.next++
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.seq, id)
	return nil
}

func (s *MemoryStore) FinalizeUpload(ctx context.Context, id string, fin UploadFinal) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !job.Status.CanTransitionTo(model.JobStatusQueued) {
		return nil, ErrInvalidTransition
	}
	job.Status = model.JobStatusQueued
	job.Progress = 0
	job.ContentType = fin.ContentType
	job.SizeBytes = fin.SizeBytes
	job.InputPath = fin.InputPath
	job.ImageWidth = fin.ImageWidth
	job.ImageHeight = fin.ImageHeight
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*model.Job
	for _, job := range s.jobs {
		if job.Status == model.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, ErrNoJobs
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return s.seq[queued[i].ID] < s.seq[queued[j].ID]
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	job := queued[0]
	job.Status = model.JobStatusRunning
	job.Progress = 0
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ClaimJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusQueued {
		return nil, ErrNotClaimable
	}
	job.Status = model.JobStatusRunning
	job.Progress = 0
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) SetDimensions(ctx context.Context, id string, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return ErrInvalidTransition
	}
	job.ImageWidth = &width
	job.ImageHeight = &height
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return ErrInvalidTransition
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, id, resultPath, annotatedPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !job.Status.CanTransitionTo(model.JobStatusSucceeded) {
		return ErrInvalidTransition
	}
	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.ResultPath = &resultPath
	job.AnnotatedPath = &annotatedPath
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !job.Status.CanTransitionTo(model.JobStatusFailed) {
		return ErrInvalidTransition
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = &errMsg
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Len reports the number of stored jobs. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
