package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/engine/enginetest"
	"github.com/framesight/api/internal/model"
)

type wsMsg struct {
	typ  int
	data []byte
}

// scriptConn is a Conn driven by the test: reads come from a channel the
// test feeds, writes land on a channel the test receives from.
type scriptConn struct {
	reads  chan wsMsg
	writes chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		reads:  make(chan wsMsg),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.reads:
		if !ok {
			return 0, nil, io.EOF
		}
		return m.typ, m.data, nil
	case <-c.closed:
		return 0, nil, io.ErrClosedPipe
	}
}

func (c *scriptConn) WriteMessage(messageType int, data []byte) error {
	select {
	case c.writes <- data:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) feed(t *testing.T, typ int, data []byte) {
	t.Helper()
	select {
	case c.reads <- wsMsg{typ: typ, data: data}:
	case <-time.After(time.Second):
		t.Fatal("session never read the frame")
	}
}

func (c *scriptConn) nextWrite(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	select {
	case data := <-c.writes:
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("session never wrote a reply")
		return nil
	}
}

func runSession(t *testing.T, conn Conn, eng engine.Engine, task model.TaskType) (*Session, chan struct{}) {
	t.Helper()
	s := NewSession(conn, eng, task, model.ApplyParamDefaults(nil, nil, nil))
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background())
	}()
	return s, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not end")
	}
}

func TestSessionOneReplyPerFrame(t *testing.T) {
	conn := newScriptConn()
	session, done := runSession(t, conn, enginetest.New(), model.TaskTypeObject)

	frame := enginetest.JPEGBytes(32, 24)
	for i := 0; i < 2; i++ {
		conn.feed(t, BinaryMessage, frame)
		msg := conn.nextWrite(t)

		assert.NotContains(t, msg, "type")
		assert.NotContains(t, msg, "error")
		assert.JSONEq(t, `"object"`, string(msg["task_type"]))
		require.Contains(t, msg, "runtime")
		require.Contains(t, msg, "result")
		require.Contains(t, msg, "annotated_jpeg_base64")

		var runtime model.ResultRuntime
		require.NoError(t, json.Unmarshal(msg["runtime"], &runtime))
		assert.Greater(t, runtime.InferenceMS, 0.0)

		var result model.DetectionResult
		require.NoError(t, json.Unmarshal(msg["result"], &result))
		assert.Len(t, result.Detections, 1)
	}

	close(conn.reads)
	waitDone(t, done)
	assert.EqualValues(t, 0, session.Dropped())
}

func TestSessionPoseReply(t *testing.T) {
	conn := newScriptConn()
	_, done := runSession(t, conn, enginetest.New(), model.TaskTypePose)

	conn.feed(t, BinaryMessage, enginetest.JPEGBytes(32, 24))
	msg := conn.nextWrite(t)

	var result model.DetectionResult
	require.NoError(t, json.Unmarshal(msg["result"], &result))
	require.Len(t, result.Instances, 1)
	assert.Len(t, result.Instances[0].Keypoints, len(model.KeypointNamesCOCO17))
	assert.Equal(t, "coco17", result.KeypointFormat)

	close(conn.reads)
	waitDone(t, done)
}

func TestSessionDropsFramesWhileBusy(t *testing.T) {
	started := make(chan struct{}, 8)
	gate := make(chan struct{})
	eng := &enginetest.FakeEngine{
		DetectFunc: func(ctx context.Context, frame []byte, task model.TaskType, p model.DetectParams) (*engine.Output, error) {
			started <- struct{}{}
			<-gate
			return enginetest.CannedOutput(task), nil
		},
	}

	conn := newScriptConn()
	session, done := runSession(t, conn, eng, model.TaskTypeObject)

	frame := enginetest.JPEGBytes(32, 24)
	conn.feed(t, BinaryMessage, frame)
	<-started // engine busy, single slot now governs the reader

	conn.feed(t, BinaryMessage, frame) // parks in the slot
	conn.feed(t, BinaryMessage, frame) // slot full: dropped
	conn.feed(t, BinaryMessage, frame) // dropped

	close(gate)
	conn.nextWrite(t)
	conn.nextWrite(t)

	close(conn.reads)
	waitDone(t, done)

	assert.Equal(t, 2, eng.Calls())
	assert.Equal(t, 1, eng.MaxInFlight())
	assert.EqualValues(t, 2, session.Dropped())
}

func TestSessionIgnoresTextMessages(t *testing.T) {
	conn := newScriptConn()
	_, done := runSession(t, conn, enginetest.New(), model.TaskTypeObject)

	conn.feed(t, TextMessage, []byte("ping"))
	conn.feed(t, BinaryMessage, enginetest.JPEGBytes(32, 24))
	msg := conn.nextWrite(t)
	assert.Contains(t, msg, "result")

	close(conn.reads)
	waitDone(t, done)
}

func TestSessionBadFrameClosesWithError(t *testing.T) {
	conn := newScriptConn()
	eng := enginetest.New()
	_, done := runSession(t, conn, eng, model.TaskTypeObject)

	conn.feed(t, BinaryMessage, []byte("definitely not a jpeg"))
	msg := conn.nextWrite(t)

	var liveErr model.LiveError
	require.Contains(t, msg, "error")
	require.NoError(t, json.Unmarshal(msg["error"], &liveErr))
	assert.Equal(t, model.LiveErrorCodeBadFrame, liveErr.Code)

	waitDone(t, done)
	assert.Equal(t, 0, eng.Calls())

	// Conn is closed after the error payload.
	select {
	case <-conn.closed:
	default:
		t.Fatal("session left the connection open")
	}
}

func TestSessionEngineErrorClosesWithError(t *testing.T) {
	conn := newScriptConn()
	_, done := runSession(t, conn, enginetest.NewFailing(errors.New("cuda fell over")), model.TaskTypeObject)

	conn.feed(t, BinaryMessage, enginetest.JPEGBytes(32, 24))
	msg := conn.nextWrite(t)

	var liveErr model.LiveError
	require.Contains(t, msg, "error")
	require.NoError(t, json.Unmarshal(msg["error"], &liveErr))
	assert.Equal(t, model.LiveErrorCodeEngineError, liveErr.Code)

	waitDone(t, done)
}
