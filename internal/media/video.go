package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// VideoInfo describes a probed video stream.
type VideoInfo struct {
	Width  int
	Height int
}

// FFmpeg drives frame extraction and re-encoding through the ffmpeg and
// ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg returns an FFmpeg toolchain using the binaries on PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
}

// Probe returns the dimensions of the first video stream.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	}
	out, err := runCommand(ctx, f.ffprobePath, args)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	fields := strings.Split(strings.TrimSpace(out), ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("ffprobe: unexpected output %q", out)
	}
	width, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("ffprobe: parse width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("ffprobe: parse height: %w", err)
	}
	return &VideoInfo{Width: width, Height: height}, nil
}

// ExtractFrames samples the video at sampleFPS into numbered JPEG files
// under dir and returns their paths in frame order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, path, dir string, sampleFPS float64) ([]string, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", sampleFPS),
		"-q:v", "2",
		filepath.Join(dir, "frame_%06d.jpg"),
	}
	if _, err := runCommand(ctx, f.ffmpegPath, args); err != nil {
		return nil, fmt.Errorf("ffmpeg extract frames: %w", err)
	}

	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames decoded from video")
	}
	sort.Strings(frames)
	return frames, nil
}

// Encode re-encodes a directory of numbered annotated JPEG frames into an
// H.264 MP4 at outPath.
func (f *FFmpeg) Encode(ctx context.Context, framePattern string, fps float64, outPath string) error {
	args := []string{
		"-v", "error",
		"-y",
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", framePattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	if _, err := runCommand(ctx, f.ffmpegPath, args); err != nil {
		return fmt.Errorf("ffmpeg encode: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, bin string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.String(), nil
}
