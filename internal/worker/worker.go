package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/media"
	"github.com/framesight/api/internal/model"
	"github.com/framesight/api/internal/service"
	"github.com/framesight/api/internal/store"
)

// VideoToolchain is the subset of the ffmpeg toolchain the worker needs,
// abstracted so video jobs are testable without the binaries installed.
type VideoToolchain interface {
	Probe(ctx context.Context, path string) (*media.VideoInfo, error)
	ExtractFrames(ctx context.Context, path, dir string, sampleFPS float64) ([]string, error)
	Encode(ctx context.Context, framePattern string, fps float64, outPath string) error
}

// Worker claims queued jobs and runs them through the detection engine.
// Multiple workers may poll the same store: the queued->running claim in
// the store is the only synchronization between them, so each job is
// executed exactly once.
type Worker struct {
	store     store.Store
	artifacts artifact.Store
	engine    engine.Engine
	video     VideoToolchain

	pollInterval time.Duration
	jobTimeout   time.Duration
	sampleFPS    float64
}

func New(st store.Store, artifacts artifact.Store, eng engine.Engine, video VideoToolchain, pollInterval, jobTimeout time.Duration, sampleFPS float64) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if sampleFPS <= 0 {
		sampleFPS = 5
	}
	return &Worker{
		store:        st,
		artifacts:    artifacts,
		engine:       eng,
		video:        video,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		sampleFPS:    sampleFPS,
	}
}

// Run polls for queued jobs until the context is cancelled. A failed job
// never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("Worker started: poll_interval=%s", w.pollInterval)
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Worker: job failed: %v", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			log.Println("Worker stopped")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext claims and executes the oldest queued job. It reports
// whether a job was claimed; the error covers execution only.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoJobs) {
			return false, nil
		}
		return false, fmt.Errorf("claim next: %w", err)
	}
	return true, w.execute(ctx, job)
}

// ProcessTask handles the asynq wake-up task enqueued on job creation.
// The store claim stays authoritative: if the polling loop (or another
// worker) already took the job, this is a no-op.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.DetectTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("detect task payload: %w", err)
	}

	job, err := w.store.ClaimJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotClaimable) || errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("claim job %s: %w", payload.JobID, err)
	}

	if err := w.execute(ctx, job); err != nil {
		log.Printf("Worker: job %s failed: %v", job.ID, err)
	}
	// Execution failures mark the job failed; retrying the task would
	// find it unclaimable anyway.
	return nil
}

func (w *Worker) execute(ctx context.Context, job *model.Job) error {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	log.Printf("Worker: processing job %s (%s, %s)", job.ID, job.TaskType, job.ContentType)
	start := time.Now()

	var err error
	switch job.MediaKind() {
	case model.MediaKindVideo:
		err = w.executeVideo(ctx, job)
	default:
		err = w.executeImage(ctx, job)
	}
	if err != nil {
		w.fail(job.ID, err)
		return err
	}

	log.Printf("Worker: job %s succeeded in %s", job.ID, time.Since(start).Round(time.Millisecond))
	return nil
}

// fail records the failure on a fresh context so a job that timed out can
// still transition to failed.
func (w *Worker) fail(jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		log.Printf("Worker: mark job %s failed: %v", jobID, err)
	}
}

func (w *Worker) executeImage(ctx context.Context, job *model.Job) error {
	data, err := w.readInput(ctx, job.InputPath)
	if err != nil {
		return err
	}

	if job.ImageWidth == nil || job.ImageHeight == nil {
		if info, err := media.ProbeImage(data); err == nil {
			job.ImageWidth, job.ImageHeight = &info.Width, &info.Height
			if err := w.store.SetDimensions(ctx, job.ID, info.Width, info.Height); err != nil {
				return fmt.Errorf("set dimensions: %w", err)
			}
		}
	}

	out, err := w.engine.Detect(ctx, data, job.TaskType, job.Params())
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	doc := w.buildDocument(job, out.Model)
	doc.Runtime = model.ResultRuntime{InferenceMS: out.InferenceMS}
	doc.Detections = out.Result.Detections
	doc.Instances = out.Result.Instances

	return w.commit(ctx, job.ID, doc, artifact.KindAnnotatedImage, out.Annotated)
}

func (w *Worker) executeVideo(ctx context.Context, job *model.Job) error {
	workDir, err := os.MkdirTemp("", "framesight-job-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// ffmpeg needs the input on the local filesystem.
	inputPath, err := w.stageInput(ctx, job, workDir)
	if err != nil {
		return err
	}

	info, err := w.video.Probe(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("probe video: %w", err)
	}
	job.ImageWidth, job.ImageHeight = &info.Width, &info.Height
	if err := w.store.SetDimensions(ctx, job.ID, info.Width, info.Height); err != nil {
		return fmt.Errorf("set dimensions: %w", err)
	}

	framesDir := filepath.Join(workDir, "frames")
	annotatedDir := filepath.Join(workDir, "annotated")
	for _, dir := range []string{framesDir, annotatedDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("create frame dir: %w", err)
		}
	}

	frames, err := w.video.ExtractFrames(ctx, inputPath, framesDir, w.sampleFPS)
	if err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	doc := w.buildDocument(job, "")
	doc.Meta.TotalFrames = len(frames)
	doc.Meta.SampleFPS = w.sampleFPS

	var totalInference float64
	modelName := ""
	for i, framePath := range frames {
		frame, err := os.ReadFile(framePath)
		if err != nil {
			return fmt.Errorf("read frame %d: %w", i, err)
		}

		out, err := w.engine.Detect(ctx, frame, job.TaskType, job.Params())
		if err != nil {
			return fmt.Errorf("detect frame %d: %w", i, err)
		}
		modelName = out.Model
		totalInference += out.InferenceMS

		doc.Frames = append(doc.Frames, model.FrameResult{
			Index:       i,
			InferenceMS: out.InferenceMS,
			Detections:  out.Result.Detections,
			Instances:   out.Result.Instances,
		})

		annotated := out.Annotated
		if len(annotated) == 0 {
			annotated = frame
		}
		name := fmt.Sprintf("frame_%06d.jpg", i+1)
		if err := os.WriteFile(filepath.Join(annotatedDir, name), annotated, 0o644); err != nil {
			return fmt.Errorf("write annotated frame %d: %w", i, err)
		}

		// Progress holds below 100 until both artifacts commit; only
		// the success transition sets 100.
		progress := (i + 1) * 100 / len(frames)
		if progress > 99 {
			progress = 99
		}
		if err := w.store.SetProgress(ctx, job.ID, progress); err != nil {
			return fmt.Errorf("set progress: %w", err)
		}
	}
	doc.Meta.Model = modelName
	doc.Runtime = model.ResultRuntime{InferenceMS: totalInference}

	outPath := filepath.Join(workDir, "annotated.mp4")
	if err := w.video.Encode(ctx, filepath.Join(annotatedDir, "frame_%06d.jpg"), w.sampleFPS, outPath); err != nil {
		return fmt.Errorf("encode video: %w", err)
	}

	encoded, err := os.ReadFile(outPath)
	if err != nil {
		return fmt.Errorf("read encoded video: %w", err)
	}
	return w.commit(ctx, job.ID, doc, artifact.KindAnnotatedVideo, encoded)
}

func (w *Worker) buildDocument(job *model.Job, modelName string) *model.ResultDocument {
	doc := &model.ResultDocument{
		Meta: model.ResultMeta{
			JobID:       job.ID,
			TaskType:    job.TaskType,
			Model:       modelName,
			CreatedAt:   time.Now().UTC(),
			ImageWidth:  job.ImageWidth,
			ImageHeight: job.ImageHeight,
			Params:      job.Params(),
		},
	}
	if job.TaskType == model.TaskTypePose {
		doc.Meta.KeypointFormat = "coco17"
	}
	return doc
}

// commit publishes both artifacts and records success. The job becomes
// succeeded only after both blobs are durable.
func (w *Worker) commit(ctx context.Context, jobID string, doc *model.ResultDocument, annotatedKind artifact.Kind, annotated []byte) error {
	resultJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	resultPath, err := w.artifacts.Publish(ctx, jobID, artifact.KindResult, bytes.NewReader(resultJSON))
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	annotatedPath, err := w.artifacts.Publish(ctx, jobID, annotatedKind, bytes.NewReader(annotated))
	if err != nil {
		return fmt.Errorf("publish annotated: %w", err)
	}

	if err := w.store.MarkSucceeded(ctx, jobID, resultPath, annotatedPath); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return nil
}

func (w *Worker) readInput(ctx context.Context, path string) ([]byte, error) {
	rc, err := w.artifacts.OpenInput(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// stageInput copies the job input into workDir and returns the local path.
func (w *Worker) stageInput(ctx context.Context, job *model.Job, workDir string) (string, error) {
	rc, err := w.artifacts.OpenInput(ctx, job.InputPath)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer rc.Close()

	local := filepath.Join(workDir, "input"+filepath.Ext(job.InputPath))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("stage input: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", fmt.Errorf("stage input: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage input: %w", err)
	}
	return local, nil
}
