package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/engine/enginetest"
	"github.com/framesight/api/internal/model"
)

func TestJobImageRoundTrip(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta.app, "cat.jpg", "image/jpeg", enginetest.JPEGBytes(320, 240),
		uploadField{"task_type", "object"})
	assertStatus(t, resp, http.StatusCreated)

	body := parseJSON(t, resp)
	jobID := createdJobID(t, body)

	job := body["job"].(map[string]interface{})
	if job["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", job["status"])
	}
	if job["image_width"] != float64(320) || job["image_height"] != float64(240) {
		t.Errorf("expected 320x240 dimensions, got %vx%v", job["image_width"], job["image_height"])
	}
	if job["has_result_json"] != false {
		t.Error("expected has_result_json to be false before processing")
	}

	// Result is not available before the worker runs.
	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/result")
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, parseJSON(t, resp)); code != "NOT_READY" {
		t.Errorf("expected NOT_READY, got %s", code)
	}

	processed, err := ta.worker.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if !processed {
		t.Fatal("expected worker to claim the job")
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID)
	assertStatus(t, resp, http.StatusOK)
	job = parseJSON(t, resp)
	if job["status"] != "succeeded" {
		t.Errorf("expected status 'succeeded', got %v", job["status"])
	}
	if job["progress"] != float64(100) {
		t.Errorf("expected progress 100, got %v", job["progress"])
	}
	if job["has_result_json"] != true || job["has_annotated_image"] != true {
		t.Error("expected both artifact flags to be true")
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/result")
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	meta, ok := result["meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected meta object in result, got: %v", result)
	}
	if meta["job_id"] != jobID {
		t.Errorf("expected meta.job_id %s, got %v", jobID, meta["job_id"])
	}
	if _, ok := result["detections"]; !ok {
		t.Error("expected detections in object result")
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/annotated")
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}
	if len(readBody(t, resp)) == 0 {
		t.Error("expected non-empty annotated image")
	}

	// Image jobs never produce an annotated video.
	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/annotated/video")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestJobPoseRoundTrip(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta.app, "people.png", "image/png", pngBytes(t),
		uploadField{"task_type", "pose"},
		uploadField{"conf", "0.5"},
		uploadField{"imgsz", "0"}) // non-positive imgsz means default
	assertStatus(t, resp, http.StatusCreated)
	jobID := createdJobID(t, parseJSON(t, resp))

	if _, err := ta.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/result")
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if _, ok := result["instances"]; !ok {
		t.Error("expected instances in pose result")
	}
	meta := result["meta"].(map[string]interface{})
	if meta["keypoint_format"] != "coco17" {
		t.Errorf("expected keypoint_format coco17, got %v", meta["keypoint_format"])
	}
	params := meta["params"].(map[string]interface{})
	if params["conf"] != 0.5 {
		t.Errorf("expected conf 0.5, got %v", params["conf"])
	}
	if params["imgsz"] != float64(640) {
		t.Errorf("expected default imgsz 640, got %v", params["imgsz"])
	}
}

func TestJobValidation(t *testing.T) {
	ta := setupApp(t)
	jpeg := enginetest.JPEGBytes(32, 24)

	cases := []struct {
		name   string
		fields []uploadField
	}{
		{"missing task_type", nil},
		{"bad task_type", []uploadField{{"task_type", "segment"}}},
		{"conf above range", []uploadField{{"task_type", "object"}, {"conf", "1.5"}}},
		{"conf not a number", []uploadField{{"task_type", "object"}, {"conf", "abc"}}},
		{"iou below range", []uploadField{{"task_type", "object"}, {"iou", "-0.1"}}},
		{"imgsz too small", []uploadField{{"task_type", "object"}, {"imgsz", "16"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doUpload(t, ta.app, "cat.jpg", "image/jpeg", jpeg, tc.fields...)
			assertStatus(t, resp, http.StatusBadRequest)
			if code := errorCode(t, parseJSON(t, resp)); code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}

	if ta.store.Len() != 0 {
		t.Errorf("expected no job records after rejected uploads, got %d", ta.store.Len())
	}
}

func TestJobUnsupportedMediaType(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta.app, "notes.txt", "text/plain", []byte("hello"),
		uploadField{"task_type", "object"})
	assertStatus(t, resp, http.StatusUnsupportedMediaType)
	if code := errorCode(t, parseJSON(t, resp)); code != "UNSUPPORTED_MEDIA" {
		t.Errorf("expected UNSUPPORTED_MEDIA, got %s", code)
	}
	if ta.store.Len() != 0 {
		t.Errorf("expected no job record, got %d", ta.store.Len())
	}
}

func TestJobDeclaredImageWithGarbageBytes(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta.app, "cat.jpg", "image/jpeg", []byte("not an image at all"),
		uploadField{"task_type", "object"})
	assertStatus(t, resp, http.StatusBadRequest)

	// The provisional record is rolled back.
	if ta.store.Len() != 0 {
		t.Errorf("expected no job record, got %d", ta.store.Len())
	}
}

func TestJobTooLarge(t *testing.T) {
	ta := setupApp(t)

	oversized := make([]byte, testMaxUploadBytes+1)
	resp := doUpload(t, ta.app, "huge.jpg", "image/jpeg", oversized,
		uploadField{"task_type", "object"})
	assertStatus(t, resp, http.StatusRequestEntityTooLarge)
	if code := errorCode(t, parseJSON(t, resp)); code != "PAYLOAD_TOO_LARGE" {
		t.Errorf("expected PAYLOAD_TOO_LARGE, got %s", code)
	}
	if ta.store.Len() != 0 {
		t.Errorf("expected no job record, got %d", ta.store.Len())
	}
}

func TestJobNotFound(t *testing.T) {
	ta := setupApp(t)

	for _, path := range []string{
		"/api/jobs/no-such-job",
		"/api/jobs/no-such-job/result",
		"/api/jobs/no-such-job/annotated",
		"/api/jobs/no-such-job/annotated/video",
	} {
		resp := doRequest(t, ta.app, http.MethodGet, path)
		assertStatus(t, resp, http.StatusNotFound)
		if code := errorCode(t, parseJSON(t, resp)); code != "NOT_FOUND" {
			t.Errorf("%s: expected NOT_FOUND, got %s", path, code)
		}
	}
}

func TestJobEngineFailure(t *testing.T) {
	ta := setupApp(t)
	ta.engine.DetectFunc = func(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*engine.Output, error) {
		return nil, errors.New("weights missing")
	}

	resp := doUpload(t, ta.app, "cat.jpg", "image/jpeg", enginetest.JPEGBytes(32, 24),
		uploadField{"task_type", "object"})
	assertStatus(t, resp, http.StatusCreated)
	jobID := createdJobID(t, parseJSON(t, resp))

	processed, err := ta.worker.ProcessNext(context.Background())
	if !processed {
		t.Fatal("expected worker to claim the job")
	}
	if err == nil {
		t.Fatal("expected processing error")
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID)
	assertStatus(t, resp, http.StatusOK)
	job := parseJSON(t, resp)
	if job["status"] != "failed" {
		t.Errorf("expected status 'failed', got %v", job["status"])
	}
	errMsg, _ := job["error_message"].(string)
	if errMsg == "" {
		t.Error("expected non-empty error_message")
	}

	// Artifacts of a failed job stay unavailable.
	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/result")
	assertStatus(t, resp, http.StatusConflict)
}
