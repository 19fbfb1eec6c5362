package handler

import (
	"context"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/live"
	"github.com/framesight/api/internal/model"
	"github.com/framesight/api/pkg/response"
)

type LiveHandler struct {
	engine    engine.Engine
	validator *validator.Validate
}

func NewLiveHandler(eng engine.Engine, v *validator.Validate) *LiveHandler {
	return &LiveHandler{engine: eng, validator: v}
}

type liveParams struct {
	TaskType string   `validate:"required,oneof=object pose"`
	Conf     *float64 `validate:"omitempty,gte=0,lte=1"`
	IoU      *float64 `validate:"omitempty,gte=0,lte=1"`
	ImgSize  *int     `validate:"omitempty,gte=32"`
}

// Upgrade validates the session parameters before the protocol switch, so
// bad requests fail with a regular HTTP error instead of a closed socket.
func (h *LiveHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	params := liveParams{TaskType: c.Query("task_type")}

	var err error
	if params.Conf, err = parseFloatValue(c.Query("conf")); err != nil {
		return response.ValidationError(c, "conf must be a number", nil)
	}
	if params.IoU, err = parseFloatValue(c.Query("iou")); err != nil {
		return response.ValidationError(c, "iou must be a number", nil)
	}
	if params.ImgSize, err = parseIntValue(c.Query("imgsz")); err != nil {
		return response.ValidationError(c, "imgsz must be an integer", nil)
	}
	if params.ImgSize != nil && *params.ImgSize <= 0 {
		params.ImgSize = nil
	}

	if err := h.validator.Struct(params); err != nil {
		return response.ValidationError(c, "Invalid session parameters", err.Error())
	}

	c.Locals("task_type", model.TaskType(params.TaskType))
	c.Locals("params", model.ApplyParamDefaults(params.Conf, params.IoU, params.ImgSize))
	return c.Next()
}

// Serve returns the WebSocket handler running the live detection loop.
func (h *LiveHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		taskType, ok := conn.Locals("task_type").(model.TaskType)
		if !ok {
			conn.Close()
			return
		}
		params, ok := conn.Locals("params").(model.DetectParams)
		if !ok {
			conn.Close()
			return
		}

		log.Printf("Live session started: task_type=%s", taskType)
		session := live.NewSession(conn, h.engine, taskType, params)
		session.Run(context.Background())
		log.Printf("Live session ended: task_type=%s dropped=%d", taskType, session.Dropped())
	})
}
