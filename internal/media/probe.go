// Package media handles decoding of uploaded stills and the ffmpeg-based
// frame pipeline for videos.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageInfo describes a decoded still image.
type ImageInfo struct {
	Width       int
	Height      int
	ContentType string
}

var formatContentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// ProbeImage decodes the image header and returns its dimensions and the
// content type of the actual encoded format, which may differ from what
// the client declared.
func ProbeImage(data []byte) (*ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image file: %w", err)
	}
	ct, ok := formatContentTypes[format]
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return &ImageInfo{
		Width:       cfg.Width,
		Height:      cfg.Height,
		ContentType: ct,
	}, nil
}
