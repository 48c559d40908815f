package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by DefaultConfig.
const (
	DefaultFrameRate          = 25.0
	DefaultThreadCount        = 1
	DefaultQueueCount         = 1
	DefaultTempFrameFormat    = "jpg"
	DefaultTempFrameQuality   = 100
	DefaultOutputImageQuality = 80
	DefaultOutputVideoQuality = 80
	DefaultOutputVideoEncoder = "libx264"
)

// Config is the immutable description of one job. It is validated and its
// output path resolved before the job starts.
type Config struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path" validate:"required"`
	OutputPath string `json:"output_path" validate:"required"`

	// Processors are module names applied in order.
	Processors []string `json:"processors" validate:"required,min=1,dive,required"`

	ThreadCount int `json:"execution_thread_count" validate:"min=1"`
	// QueueCount is the number of chunks queued per worker.
	QueueCount int `json:"execution_queue_count" validate:"min=1"`

	KeepFPS   bool `json:"keep_fps"`
	TrimStart *int `json:"trim_frame_start,omitempty" validate:"omitempty,min=0"`
	TrimEnd   *int `json:"trim_frame_end,omitempty" validate:"omitempty,min=1"`

	TempFrameFormat    string `json:"temp_frame_format" validate:"oneof=jpg png"`
	TempFrameQuality   int    `json:"temp_frame_quality" validate:"min=0,max=100"`
	OutputImageQuality int    `json:"output_image_quality" validate:"min=0,max=100"`
	OutputVideoEncoder string `json:"output_video_encoder" validate:"oneof=libx264 libx265 libvpx-vp9 h264_nvenc hevc_nvenc"`
	OutputVideoQuality int    `json:"output_video_quality" validate:"min=0,max=100"`

	SkipAudio bool `json:"skip_audio"`
	KeepTemp  bool `json:"keep_temp"`
	PushToS3  bool `json:"push_to_s3"`
}

// DefaultConfig returns a configuration with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		ThreadCount:        DefaultThreadCount,
		QueueCount:         DefaultQueueCount,
		TempFrameFormat:    DefaultTempFrameFormat,
		TempFrameQuality:   DefaultTempFrameQuality,
		OutputImageQuality: DefaultOutputImageQuality,
		OutputVideoEncoder: DefaultOutputVideoEncoder,
		OutputVideoQuality: DefaultOutputVideoQuality,
	}
}

var validate = validator.New()

// Validate checks cfg and returns an error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.TrimStart != nil && c.TrimEnd != nil && *c.TrimEnd <= *c.TrimStart {
		return fmt.Errorf("%w: trim end %d must be after trim start %d", ErrInvalidConfig, *c.TrimEnd, *c.TrimStart)
	}
	return nil
}

// ResolveOutputPath returns the file the job writes. When output names an
// existing directory the file name is derived from the source and target.
func ResolveOutputPath(sourcePath, targetPath, outputPath string) string {
	if outputPath == "" || targetPath == "" {
		return outputPath
	}
	info, err := os.Stat(outputPath)
	if err != nil || !info.IsDir() {
		return outputPath
	}

	ext := filepath.Ext(targetPath)
	name := stem(targetPath) + ext
	if sourcePath != "" {
		name = stem(sourcePath) + "-" + name
	}
	return filepath.Join(outputPath, name)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
