package e2e

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/engine/enginetest"
	"github.com/framesight/api/internal/handler"
	"github.com/framesight/api/internal/middleware"
	"github.com/framesight/api/internal/service"
	"github.com/framesight/api/internal/store"
	"github.com/framesight/api/internal/worker"
)

const testMaxUploadBytes = 2 * 1024 * 1024

// testApp holds all components needed for testing.
type testApp struct {
	app       *fiber.App
	store     *store.MemoryStore
	artifacts artifact.Store
	engine    *enginetest.FakeEngine
	worker    *worker.Worker
}

// setupApp wires the same routes as main.go on in-process dependencies:
// in-memory job store, local artifact storage in a temp dir, a fake
// detection engine, and no Redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	jobStore := store.NewMemoryStore()
	artifacts, err := artifact.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	fakeEngine := enginetest.New()

	validate := validator.New()
	jobService := service.NewJobService(jobStore, artifacts, nil)

	jobsHandler := handler.NewJobsHandler(jobService, validate, testMaxUploadBytes)
	rateLimiter := middleware.NewRateLimiter(nil) // no Redis → limiter disabled

	app := fiber.New(fiber.Config{
		BodyLimit: testMaxUploadBytes + 1024*1024,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database": jobStore.Ping(c.Context()) == nil,
				"redis":    false,
				"engine":   fakeEngine.HealthCheck(c.Context()) == nil,
			},
		})
	})

	api := app.Group("/api")
	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(10000), jobsHandler.Create)
	jobs.Get("/:id", jobsHandler.Get)
	jobs.Get("/:id/result", jobsHandler.Result)
	jobs.Get("/:id/annotated", jobsHandler.Annotated)
	jobs.Get("/:id/annotated/video", jobsHandler.AnnotatedVideo)

	w := worker.New(jobStore, artifacts, fakeEngine, nil, time.Millisecond, time.Minute, 5)

	return &testApp{
		app:       app,
		store:     jobStore,
		artifacts: artifacts,
		engine:    fakeEngine,
		worker:    w,
	}
}

// uploadField is one extra form field of a multipart upload.
type uploadField struct {
	name  string
	value string
}

// doUpload posts a multipart job creation request.
func doUpload(t *testing.T, app *fiber.App, filename, contentType string, data []byte, fields ...uploadField) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create multipart file part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write multipart file part: %v", err)
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			t.Fatalf("failed to write multipart field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/jobs/", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// doRequest performs a plain HTTP request against the test app.
func doRequest(t *testing.T, app *fiber.App, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// pngBytes returns a small valid PNG.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 36))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// errorCode extracts the code field of an error envelope.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

// createdJobID extracts the job id from a creation response.
func createdJobID(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	job, ok := body["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'job' object in response, got: %v", body)
	}
	id, _ := job["id"].(string)
	if id == "" {
		t.Fatal("expected non-empty job id")
	}
	return id
}
