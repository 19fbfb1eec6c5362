// Package engine abstracts the detection model behind a capability
// interface so the job pipeline and live sessions stay independent of the
// model's implementation and deterministic in tests.
package engine

import (
	"context"

	"github.com/framesight/api/internal/model"
)

// Output is the result of a single detection call.
type Output struct {
	Result      model.DetectionResult
	Annotated   []byte // JPEG-encoded annotated frame
	InferenceMS float64
	Model       string // model identifier, informational
}

// Engine performs one blocking, stateless detection over an encoded image.
type Engine interface {
	Detect(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*Output, error)
	HealthCheck(ctx context.Context) error
}
