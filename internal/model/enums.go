package model

// Job status
type JobStatus string

const (
	JobStatusUploading JobStatus = "uploading"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransitionTo reports whether the edge s -> next exists in the job
// lifecycle. uploading -> queued -> running -> succeeded, with failed
// reachable from queued and running.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusUploading:
		return next == JobStatusQueued
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusSucceeded || next == JobStatusFailed
	default:
		return false
	}
}

// Task types
type TaskType string

const (
	TaskTypeObject TaskType = "object"
	TaskTypePose   TaskType = "pose"
)

var ValidTaskTypes = []TaskType{TaskTypeObject, TaskTypePose}

func (t TaskType) Valid() bool {
	return t == TaskTypeObject || t == TaskTypePose
}

// Media kinds
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// AllowedImageTypes maps accepted image content types to file extensions.
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// AllowedVideoTypes maps accepted video content types to file extensions.
var AllowedVideoTypes = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// KindForContentType classifies a content type, or returns false if it is
// not accepted for upload.
func KindForContentType(ct string) (MediaKind, bool) {
	if _, ok := AllowedImageTypes[ct]; ok {
		return MediaKindImage, true
	}
	if _, ok := AllowedVideoTypes[ct]; ok {
		return MediaKindVideo, true
	}
	return "", false
}
