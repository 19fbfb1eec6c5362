package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"sync/atomic"

	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/media"
	"github.com/framesight/api/internal/model"
)

// WebSocket message types, RFC 6455 opcode values.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// Conn is the subset of *websocket.Conn the session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session runs one live detection loop over a WebSocket connection:
// binary JPEG frames in, one JSON result per processed frame out.
// At most one frame is in flight; frames arriving while the engine is
// busy are dropped so the client always sees a fresh result.
type Session struct {
	conn     Conn
	engine   engine.Engine
	taskType model.TaskType
	params   model.DetectParams

	dropped atomic.Int64
}

func NewSession(conn Conn, eng engine.Engine, taskType model.TaskType, params model.DetectParams) *Session {
	return &Session{
		conn:     conn,
		engine:   eng,
		taskType: taskType,
		params:   params,
	}
}

// Dropped reports how many frames were discarded because a frame was
// already being processed.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Run processes frames until the client disconnects, the context is
// cancelled, or a frame fails. All writes happen from this goroutine;
// the reader goroutine only feeds the inbox.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	inbox := make(chan []byte, 1)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			msgType, data, err := s.conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != BinaryMessage {
				continue
			}
			select {
			case inbox <- data:
			default:
				s.dropped.Add(1)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			// The reader may have parked a final frame in the inbox
			// just before disconnecting.
			select {
			case frame := <-inbox:
				s.processFrame(ctx, frame)
			default:
			}
			return
		case frame := <-inbox:
			if !s.processFrame(ctx, frame) {
				return
			}
		}
	}
}

// processFrame runs one frame through the engine and writes the reply.
// Returns false when the session should end.
func (s *Session) processFrame(ctx context.Context, frame []byte) bool {
	if _, err := media.ProbeImage(frame); err != nil {
		s.writeError(model.LiveErrorCodeBadFrame, "Frame is not a decodable image")
		return false
	}

	out, err := s.engine.Detect(ctx, frame, s.taskType, s.params)
	if err != nil {
		log.Printf("Live detect failed: %v", err)
		s.writeError(model.LiveErrorCodeEngineError, "Detection failed")
		return false
	}

	msg := model.LiveResultMessage{
		TaskType: s.taskType,
		Runtime:  model.ResultRuntime{InferenceMS: out.InferenceMS},
		Result:   &out.Result,
	}
	if len(out.Annotated) > 0 {
		msg.AnnotatedJPEGBase64 = base64.StdEncoding.EncodeToString(out.Annotated)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Live result marshal failed: %v", err)
		return false
	}
	return s.conn.WriteMessage(TextMessage, payload) == nil
}

func (s *Session) writeError(code, message string) {
	payload, err := json.Marshal(model.LiveErrorMessage{
		Error: model.LiveError{Code: code, Message: message},
	})
	if err != nil {
		return
	}
	_ = s.conn.WriteMessage(TextMessage, payload)
}
