package processor

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrNilFrame is returned when a module is handed no frame to transform.
var ErrNilFrame = errors.New("processor: nil frame")

// ReadFrame decodes the frame file at path.
func ReadFrame(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return img, nil
}

// WriteFrame encodes frame to path. The format follows the file extension;
// quality only applies to JPEG output.
func WriteFrame(path string, frame image.Image, quality int) error {
	if frame == nil {
		return ErrNilFrame
	}
	if err := imaging.Save(frame, path, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		return fmt.Errorf("write frame %s: %w", path, err)
	}
	return nil
}

func clampQuality(q int) int {
	return min(max(q, 1), 100)
}
