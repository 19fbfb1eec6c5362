package model

import "time"

// Detection parameter defaults, substituted by the worker when a job or
// live session does not set its own values.
const (
	DefaultConf   = 0.25
	DefaultIoU    = 0.45
	DefaultImgSize = 640
)

// Job represents one unit of asynchronous detection work.
type Job struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	TaskType TaskType  `json:"task_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`

	ImageWidth  *int `json:"image_width"`
	ImageHeight *int `json:"image_height"`

	Conf   *float64 `json:"conf"`
	IoU    *float64 `json:"iou"`
	ImgSize *int    `json:"imgsz"`

	Progress     int     `json:"progress"`
	ErrorMessage *string `json:"error_message"`

	// Artifact locations, set when the worker commits outputs.
	// Exposed to clients only as has_* booleans.
	InputPath     string `json:"-"`
	ResultPath    *string `json:"-"`
	AnnotatedPath *string `json:"-"`
}

// MediaKind classifies the job's input by its content type.
func (j *Job) MediaKind() MediaKind {
	if _, ok := AllowedVideoTypes[j.ContentType]; ok {
		return MediaKindVideo
	}
	return MediaKindImage
}

// Params returns the job's detection parameters with defaults applied.
func (j *Job) Params() DetectParams {
	return ApplyParamDefaults(j.Conf, j.IoU, j.ImgSize)
}

// ApplyParamDefaults fills unset detection parameters with the defaults.
func ApplyParamDefaults(conf, iou *float64, imgsz *int) DetectParams {
	p := DetectParams{Conf: DefaultConf, IoU: DefaultIoU, ImgSize: DefaultImgSize}
	if conf != nil {
		p.Conf = *conf
	}
	if iou != nil {
		p.IoU = *iou
	}
	if imgsz != nil {
		p.ImgSize = *imgsz
	}
	return p
}

// JobView is the client-facing representation of a Job.
type JobView struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	TaskType TaskType  `json:"task_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Progress  int       `json:"progress"`

	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`

	ImageWidth  *int `json:"image_width"`
	ImageHeight *int `json:"image_height"`

	Conf    *float64 `json:"conf"`
	IoU     *float64 `json:"iou"`
	ImgSize *int     `json:"imgsz"`

	ErrorMessage *string `json:"error_message"`

	HasResultJSON     bool `json:"has_result_json"`
	HasAnnotatedImage bool `json:"has_annotated_image"`
}

// View builds the client-facing representation of the job.
func (j *Job) View() *JobView {
	return &JobView{
		ID:                j.ID,
		Status:            j.Status,
		TaskType:          j.TaskType,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		Progress:          j.Progress,
		Filename:          j.Filename,
		ContentType:       j.ContentType,
		SizeBytes:         j.SizeBytes,
		ImageWidth:        j.ImageWidth,
		ImageHeight:       j.ImageHeight,
		Conf:              j.Conf,
		IoU:               j.IoU,
		ImgSize:           j.ImgSize,
		ErrorMessage:      j.ErrorMessage,
		HasResultJSON:     j.ResultPath != nil,
		HasAnnotatedImage: j.AnnotatedPath != nil,
	}
}

// JobCreateResponse wraps the created job, returned by POST /api/jobs.
type JobCreateResponse struct {
	Job *JobView `json:"job"`
}

// DetectParams are the parameters passed to a single engine call, with
// defaults already applied.
type DetectParams struct {
	Conf    float64 `json:"conf"`
	IoU     float64 `json:"iou"`
	ImgSize int     `json:"imgsz"`
}
