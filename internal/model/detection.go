package model

import "time"

// KeypointNamesCOCO17 is the keypoint ordering produced by pose models.
var KeypointNamesCOCO17 = []string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// Detection is one detected object box.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BboxXYXY   []float64 `json:"bbox_xyxy"`
}

// Keypoint is one named body keypoint of a pose instance.
type Keypoint struct {
	Name  string   `json:"name"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Score *float64 `json:"score"`
}

// PoseInstance is one detected person with keypoints.
type PoseInstance struct {
	Confidence *float64   `json:"confidence"`
	BboxXYXY   []float64  `json:"bbox_xyxy"`
	Keypoints  []Keypoint `json:"keypoints"`
}

// DetectionResult is the structured output of a single engine call.
// Detections is set for object tasks, Instances for pose tasks.
type DetectionResult struct {
	Detections     []Detection    `json:"detections,omitempty"`
	Instances      []PoseInstance `json:"instances,omitempty"`
	KeypointFormat string         `json:"keypoint_format,omitempty"`
}

// ResultMeta describes the job a result document belongs to.
type ResultMeta struct {
	JobID          string        `json:"job_id"`
	TaskType       TaskType      `json:"task_type"`
	Model          string        `json:"model,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ImageWidth     *int          `json:"image_width"`
	ImageHeight    *int          `json:"image_height"`
	Params         DetectParams  `json:"params"`
	KeypointFormat string        `json:"keypoint_format,omitempty"`
	TotalFrames    int           `json:"total_frames,omitempty"`
	SampleFPS      float64       `json:"sample_fps,omitempty"`
}

// ResultRuntime carries timing information for a result document.
type ResultRuntime struct {
	InferenceMS float64 `json:"inference_ms"`
}

// FrameResult is the per-frame entry of a video result document.
type FrameResult struct {
	Index       int            `json:"index"`
	InferenceMS float64        `json:"inference_ms"`
	Detections  []Detection    `json:"detections,omitempty"`
	Instances   []PoseInstance `json:"instances,omitempty"`
}

// ResultDocument is the persisted result artifact. Still images carry
// Detections or Instances at the top level; videos carry one FrameResult
// per sampled frame.
type ResultDocument struct {
	Meta       ResultMeta     `json:"meta"`
	Runtime    ResultRuntime  `json:"runtime"`
	Detections []Detection    `json:"detections,omitempty"`
	Instances  []PoseInstance `json:"instances,omitempty"`
	Frames     []FrameResult  `json:"frames,omitempty"`
}
