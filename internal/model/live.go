package model

// Live session error codes
const (
	LiveErrorCodeBadFrame    = "BAD_FRAME"
	LiveErrorCodeEngineError = "ENGINE_ERROR"
)

// LiveResultMessage is the reply sent for each processed frame on a live
// streaming session: exactly one per inbound frame.
type LiveResultMessage struct {
	TaskType            TaskType         `json:"task_type"`
	Runtime             ResultRuntime    `json:"runtime"`
	Result              *DetectionResult `json:"result"`
	AnnotatedJPEGBase64 string           `json:"annotated_jpeg_base64"`
}

// LiveErrorMessage is sent before a session is closed on a protocol or
// engine error, so clients never observe a silent hang.
type LiveErrorMessage struct {
	Error LiveError `json:"error"`
}

// LiveError carries the error details of a LiveErrorMessage.
type LiveError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
