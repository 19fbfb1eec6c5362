package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/framesight/api/internal/config"
	"github.com/framesight/api/internal/model"
)

// Client implements Engine against the inference sidecar's HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// detectRequest is the wire request for POST /detect.
type detectRequest struct {
	TaskType    model.TaskType `json:"task_type"`
	ImageBase64 string         `json:"image_base64"`
	Conf        float64        `json:"conf"`
	IoU         float64        `json:"iou"`
	ImgSize     int            `json:"imgsz"`
}

// detectResponse is the wire response from POST /detect.
type detectResponse struct {
	Result              model.DetectionResult `json:"result"`
	AnnotatedJPEGBase64 string                `json:"annotated_jpeg_base64"`
	InferenceMS         float64               `json:"inference_ms"`
	Model               string                `json:"model"`
}

// NewClient creates a detection engine client for the sidecar at cfg.URL.
func NewClient(cfg *config.EngineConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.URL,
	}
}

// Detect runs one synchronous detection call.
func (c *Client) Detect(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*Output, error) {
	reqBody := detectRequest{
		TaskType:    task,
		ImageBase64: base64.StdEncoding.EncodeToString(frame),
		Conf:        p.Conf,
		IoU:         p.IoU,
		ImgSize:     p.ImgSize,
	}

	var resp detectResponse
	if err := c.post(ctx, "/detect", reqBody, &resp); err != nil {
		return nil, err
	}

	annotated, err := base64.StdEncoding.DecodeString(resp.AnnotatedJPEGBase64)
	if err != nil {
		return nil, fmt.Errorf("decode annotated frame: %w", err)
	}

	return &Output{
		Result:      resp.Result,
		Annotated:   annotated,
		InferenceMS: resp.InferenceMS,
		Model:       resp.Model,
	}, nil
}

// HealthCheck checks if the inference sidecar is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *Client) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
