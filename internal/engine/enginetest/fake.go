// Package enginetest provides a deterministic Engine implementation for
// tests, with hooks for canned results, injected failures, and tracking of
// concurrent calls.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/model"
)

// FakeEngine satisfies engine.Engine for testing.
type FakeEngine struct {
	DetectFunc func(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*engine.Output, error)

	mu          sync.Mutex
	calls       int
	inFlight    int32
	maxInFlight int32
}

// Detect runs DetectFunc (or a canned one-box result) while tracking call
// counts and the peak number of concurrent calls.
func (f *FakeEngine) Detect(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*engine.Output, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.DetectFunc != nil {
		return f.DetectFunc(ctx, frame, task, p)
	}
	return CannedOutput(task), nil
}

func (f *FakeEngine) HealthCheck(ctx context.Context) error { return nil }

// Calls returns the number of Detect invocations so far.
func (f *FakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MaxInFlight returns the peak number of concurrent Detect calls observed.
func (f *FakeEngine) MaxInFlight() int {
	return int(atomic.LoadInt32(&f.maxInFlight))
}

// New returns a FakeEngine producing the canned one-detection output.
func New() *FakeEngine {
	return &FakeEngine{}
}

// NewFailing returns a FakeEngine that always returns the given error.
func NewFailing(err error) *FakeEngine {
	return &FakeEngine{
		DetectFunc: func(context.Context, []byte, model.TaskType, model.DetectParams) (*engine.Output, error) {
			return nil, err
		},
	}
}

// CannedOutput builds the default deterministic output: one "person" box
// for object tasks, one pose instance with COCO17 keypoints for pose tasks.
func CannedOutput(task model.TaskType) *engine.Output {
	out := &engine.Output{
		Annotated:   JPEGBytes(32, 24),
		InferenceMS: 12.5,
		Model:       "fake-v1",
	}
	switch task {
	case model.TaskTypePose:
		conf := 0.91
		inst := model.PoseInstance{
			Confidence: &conf,
			BboxXYXY:   []float64{10, 20, 110, 220},
		}
		for i, name := range model.KeypointNamesCOCO17 {
			score := 0.8
			inst.Keypoints = append(inst.Keypoints, model.Keypoint{
				Name:  name,
				X:     float64(20 + i),
				Y:     float64(30 + i),
				Score: &score,
			})
		}
		out.Result = model.DetectionResult{
			Instances:      []model.PoseInstance{inst},
			KeypointFormat: "coco17",
		}
	default:
		out.Result = model.DetectionResult{
			Detections: []model.Detection{{
				ClassID:    0,
				ClassName:  "person",
				Confidence: 0.87,
				BboxXYXY:   []float64{12, 34, 120, 240},
			}},
		}
	}
	return out
}

// JPEGBytes returns a valid JPEG of the given dimensions.
func JPEGBytes(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(fmt.Sprintf("enginetest: encode jpeg: %v", err))
	}
	return buf.Bytes()
}
