package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/model"
	"github.com/framesight/api/internal/service"
	"github.com/framesight/api/internal/store"
	"github.com/framesight/api/pkg/response"
)

type JobsHandler struct {
	service   *service.JobService
	validator *validator.Validate
	maxBytes  int64
}

func NewJobsHandler(svc *service.JobService, v *validator.Validate, maxUploadBytes int64) *JobsHandler {
	return &JobsHandler{
		service:   svc,
		validator: v,
		maxBytes:  maxUploadBytes,
	}
}

type createJobParams struct {
	TaskType string   `validate:"required,oneof=object pose"`
	Conf     *float64 `validate:"omitempty,gte=0,lte=1"`
	IoU      *float64 `validate:"omitempty,gte=0,lte=1"`
	ImgSize  *int     `validate:"omitempty,gte=32"`
}

// Create handles POST /api/jobs
// @Summary      Create detection job
// @Description  Upload an image or video and queue it for detection
// @Tags         Jobs
// @Accept       multipart/form-data
// @Produce      json
// @Param        file      formData file   true  "Media file (JPEG, PNG, WebP, MP4, MOV)"
// @Param        task_type formData string true  "Detection task" Enums(object, pose)
// @Param        conf      formData number false "Confidence threshold [0,1]"
// @Param        iou       formData number false "IoU threshold [0,1]"
// @Param        imgsz     formData int    false "Inference size (>= 32)"
// @Success      201 {object} model.JobCreateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      415 {object} response.ErrorResponse
// @Router       /api/jobs [post]
func (h *JobsHandler) Create(c *fiber.Ctx) error {
	params := createJobParams{TaskType: c.FormValue("task_type")}

	var err error
	if params.Conf, err = parseFloatValue(c.FormValue("conf")); err != nil {
		return response.ValidationError(c, "conf must be a number", nil)
	}
	if params.IoU, err = parseFloatValue(c.FormValue("iou")); err != nil {
		return response.ValidationError(c, "iou must be a number", nil)
	}
	if params.ImgSize, err = parseIntValue(c.FormValue("imgsz")); err != nil {
		return response.ValidationError(c, "imgsz must be an integer", nil)
	}
	// A non-positive imgsz means "use the default".
	if params.ImgSize != nil && *params.ImgSize <= 0 {
		params.ImgSize = nil
	}

	if err := h.validator.Struct(params); err != nil {
		return response.ValidationError(c, "Invalid detection parameters", err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > h.maxBytes {
		return response.PayloadTooLarge(c, "File too large", map[string]interface{}{
			"maxSize":  h.maxBytes,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if _, ok := model.KindForContentType(contentType); !ok {
		return response.UnsupportedMedia(c, "Unsupported media type. Allowed: JPEG, PNG, WebP, MP4, MOV", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	filename := file.Filename
	if filename == "" {
		filename = "upload"
	}

	job, err := h.service.CreateJob(c.Context(), service.CreateJobInput{
		Filename:    filename,
		ContentType: contentType,
		TaskType:    model.TaskType(params.TaskType),
		Conf:        params.Conf,
		IoU:         params.IoU,
		ImgSize:     params.ImgSize,
		File:        f,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedMedia):
			return response.UnsupportedMedia(c, "Unsupported media type. Allowed: JPEG, PNG, WebP, MP4, MOV", nil)
		case errors.Is(err, service.ErrInvalidMedia):
			return response.ValidationError(c, "Invalid media file", nil)
		default:
			return response.ServiceError(c, "Failed to create job")
		}
	}

	return response.Created(c, model.JobCreateResponse{Job: job.View()})
}

// Get handles GET /api/jobs/:id
// @Summary      Get job status
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.JobView
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{id} [get]
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.service.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}
	return response.OK(c, job.View())
}

// Result handles GET /api/jobs/:id/result
// @Summary      Get job result document
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.ResultDocument
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/jobs/{id}/result [get]
func (h *JobsHandler) Result(c *fiber.Ctx) error {
	return h.sendArtifact(c, artifact.KindResult)
}

// Annotated handles GET /api/jobs/:id/annotated
// @Summary      Get annotated image
// @Tags         Jobs
// @Produce      jpeg
// @Param        id path string true "Job ID"
// @Success      200 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/jobs/{id}/annotated [get]
func (h *JobsHandler) Annotated(c *fiber.Ctx) error {
	job, err := h.service.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}
	return h.sendArtifact(c, service.AnnotatedKind(job))
}

// AnnotatedVideo handles GET /api/jobs/:id/annotated/video
// @Summary      Get annotated video
// @Tags         Jobs
// @Produce      mp4
// @Param        id path string true "Job ID"
// @Success      200 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/jobs/{id}/annotated/video [get]
func (h *JobsHandler) AnnotatedVideo(c *fiber.Ctx) error {
	return h.sendArtifact(c, artifact.KindAnnotatedVideo)
}

func (h *JobsHandler) sendArtifact(c *fiber.Ctx, kind artifact.Kind) error {
	rc, err := h.service.OpenArtifact(c.Context(), c.Params("id"), kind)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrNotReady):
			return response.NotReady(c, "Job not ready")
		case errors.Is(err, artifact.ErrNotFound):
			return response.NotFound(c, "Artifact not found")
		default:
			return response.ServiceError(c, "Failed to load artifact")
		}
	}

	c.Set(fiber.HeaderContentType, kind.ContentType())
	return c.SendStream(rc)
}

func parseFloatValue(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseIntValue(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
