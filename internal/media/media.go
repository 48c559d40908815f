// Package media wraps the external ffmpeg tooling used to split videos into
// frames, reassemble them and carry audio across.
package media

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultEncoder is used when a merge request names no encoder.
const DefaultEncoder = "libx264"

// Encoders lists the supported output video encoders.
var Encoders = []string{"libx264", "libx265", "libvpx-vp9", "h264_nvenc", "hevc_nvenc"}

// Toolkit defines the media operations the pipeline depends on.
type Toolkit interface {
	// DetectFrameRate returns the frame rate of the first video stream.
	DetectFrameRate(ctx context.Context, path string) (float64, error)

	// ExtractFrames decodes the target into numbered frame files.
	ExtractFrames(ctx context.Context, req ExtractRequest) error

	// MergeFrames encodes numbered frame files into a video without audio.
	MergeFrames(ctx context.Context, req MergeRequest) error

	// RestoreAudio copies the target's audio track onto the merged video.
	RestoreAudio(ctx context.Context, req AudioRequest) error

	// CompressImage re-encodes an image in place at the given quality.
	CompressImage(ctx context.Context, path string, quality int) error

	// SampleFrames writes every interval-th frame of a video into dir.
	SampleFrames(ctx context.Context, videoPath, dir string, interval int) ([]string, error)
}

// ExtractRequest describes a frame extraction.
type ExtractRequest struct {
	TargetPath   string
	FramePattern string
	FPS          float64
	Quality      int
	TrimStart    *int
	TrimEnd      *int
}

// MergeRequest describes reassembly of frames into a video.
type MergeRequest struct {
	FramePattern string
	OutputPath   string
	FPS          float64
	Encoder      string
	Quality      int
}

// AudioRequest describes restoring the target's audio onto a merged video.
// Trim bounds are frame numbers and are converted to seconds with FPS.
type AudioRequest struct {
	TargetPath string
	VideoPath  string
	OutputPath string
	FPS        float64
	TrimStart  *int
	TrimEnd    *int
}

// IsImage reports whether the file at path is an image.
func IsImage(path string) bool {
	return hasTopLevelType(path, "image/")
}

// IsVideo reports whether the file at path is a video.
func IsVideo(path string) bool {
	return hasTopLevelType(path, "video/")
}

func hasTopLevelType(path, prefix string) bool {
	if path == "" {
		return false
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt.String(), prefix)
}
