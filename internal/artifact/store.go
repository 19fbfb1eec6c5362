package artifact

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("artifact not found")

// Kind identifies one of the blobs stored per job.
type Kind string

const (
	KindResult         Kind = "result.json"
	KindAnnotatedImage Kind = "annotated.jpg"
	KindAnnotatedVideo Kind = "annotated.mp4"
)

// ContentType returns the MIME type served for this kind of blob.
func (k Kind) ContentType() string {
	switch k {
	case KindResult:
		return "application/json"
	case KindAnnotatedImage:
		return "image/jpeg"
	case KindAnnotatedVideo:
		return "video/mp4"
	}
	return "application/octet-stream"
}

// Store persists job inputs and output artifacts. Publish is atomic with
// respect to readers: Open sees either nothing or the complete blob, never
// a partial write.
type Store interface {
	// SaveInput stores the uploaded media for a job and returns its
	// location and size.
	SaveInput(ctx context.Context, jobID, ext string, r io.Reader) (string, int64, error)
	// OpenInput opens a previously saved input by its location.
	OpenInput(ctx context.Context, path string) (io.ReadCloser, error)
	// RemoveInput discards an input whose upload failed validation.
	RemoveInput(ctx context.Context, path string) error

	// Publish atomically commits an output blob for a job and returns
	// its location.
	Publish(ctx context.Context, jobID string, kind Kind, r io.Reader) (string, error)
	// Open reads a committed output blob. Returns ErrNotFound if it was
	// never published.
	Open(ctx context.Context, jobID string, kind Kind) (io.ReadCloser, error)
}
