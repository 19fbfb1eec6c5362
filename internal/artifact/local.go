package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores inputs and artifacts on the local filesystem under a data
// directory, laid out as inputs/{jobID}{ext} and outputs/{jobID}/{kind}.
// Publish writes to a temporary file in the destination directory and
// renames it into place, so readers never observe a partial artifact.
type Local struct {
	baseDir string
}

// NewLocal creates a Local store rooted at baseDir, creating the inputs
// and outputs directories if needed.
func NewLocal(baseDir string) (*Local, error) {
	for _, d := range []string{filepath.Join(baseDir, "inputs"), filepath.Join(baseDir, "outputs")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) SaveInput(ctx context.Context, jobID, ext string, r io.Reader) (string, int64, error) {
	path := filepath.Join(l.baseDir, "inputs", jobID+ext)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create input file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("write input file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("commit input file: %w", err)
	}
	return path, n, nil
}

func (l *Local) OpenInput(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func (l *Local) RemoveInput(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove input: %w", err)
	}
	return nil
}

func (l *Local) Publish(ctx context.Context, jobID string, kind Kind, r io.Reader) (string, error) {
	dir := filepath.Join(l.baseDir, "outputs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, string(kind))
	tmp, err := os.CreateTemp(dir, string(kind)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	// Rename within the same directory is atomic on POSIX filesystems.
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return path, nil
}

func (l *Local) Open(ctx context.Context, jobID string, kind Kind) (io.ReadCloser, error) {
	path := filepath.Join(l.baseDir, "outputs", jobID, string(kind))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}
