// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/framefusion/internal/media"
)

// Static errors for configuration validation.
var (
	// ErrInvalidExecution is returned when thread or queue counts are below 1.
	ErrInvalidExecution = errors.New("config: EXECUTION_THREAD_COUNT and EXECUTION_QUEUE_COUNT must be at least 1")
	// ErrInvalidQuality is returned when a quality setting is outside 0-100.
	ErrInvalidQuality = errors.New("config: quality must be between 0 and 100")
	// ErrInvalidFrameFormat is returned when TEMP_FRAME_FORMAT is not jpg or png.
	ErrInvalidFrameFormat = errors.New("config: TEMP_FRAME_FORMAT must be jpg or png")
	// ErrInvalidEncoder is returned when OUTPUT_VIDEO_ENCODER is not supported.
	ErrInvalidEncoder = errors.New("config: unsupported OUTPUT_VIDEO_ENCODER")
	// ErrInvalidModeration is returned when the moderation threshold or
	// sampling interval is out of range.
	ErrInvalidModeration = errors.New("config: MODERATION_THRESHOLD must be in (0,1] and MODERATION_FRAME_INTERVAL positive")
	// ErrNoProcessors is returned when FRAME_PROCESSORS is empty.
	ErrNoProcessors = errors.New("config: FRAME_PROCESSORS must name at least one module")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/framefusion" json:"temp_dir"`

	// Processing settings
	FrameProcessors      []string `env:"FRAME_PROCESSORS, default=mirror" json:"frame_processors"`
	ExecutionThreadCount int      `env:"EXECUTION_THREAD_COUNT, default=1" json:"execution_thread_count"`
	ExecutionQueueCount  int      `env:"EXECUTION_QUEUE_COUNT, default=1" json:"execution_queue_count"`
	TempFrameFormat      string   `env:"TEMP_FRAME_FORMAT, default=jpg" json:"temp_frame_format"`
	TempFrameQuality     int      `env:"TEMP_FRAME_QUALITY, default=100" json:"temp_frame_quality"`
	OutputImageQuality   int      `env:"OUTPUT_IMAGE_QUALITY, default=80" json:"output_image_quality"`
	OutputVideoEncoder   string   `env:"OUTPUT_VIDEO_ENCODER, default=libx264" json:"output_video_encoder"`
	OutputVideoQuality   int      `env:"OUTPUT_VIDEO_QUALITY, default=80" json:"output_video_quality"`
	KeepFPS              bool     `env:"KEEP_FPS, default=false" json:"keep_fps"`
	SkipAudio            bool     `env:"SKIP_AUDIO, default=false" json:"skip_audio"`
	KeepTemp             bool     `env:"KEEP_TEMP, default=false" json:"keep_temp"`
	SharpenSigma         float64  `env:"SHARPEN_SIGMA, default=1.0" json:"sharpen_sigma"`

	// MaxMemoryGB caps the Go runtime soft memory limit. Zero leaves it unset.
	MaxMemoryGB int `env:"MAX_MEMORY_GB, default=0" json:"max_memory_gb"`

	// External tools
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional moderation settings
	ModerationEndpoint      string  `env:"MODERATION_ENDPOINT" json:"moderation_endpoint,omitempty"`
	ModerationAPIKey        string  `env:"MODERATION_API_KEY" json:"-"` // Masked in JSON
	ModerationThreshold     float64 `env:"MODERATION_THRESHOLD, default=0.75" json:"moderation_threshold"`
	ModerationFrameInterval int     `env:"MODERATION_FRAME_INTERVAL, default=25" json:"moderation_frame_interval"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ModerationEnabled returns true if a moderation endpoint is configured.
func (c *Config) ModerationEnabled() bool {
	return c.ModerationEndpoint != ""
}

// MaxMemoryBytes returns the configured memory limit in bytes, or 0.
func (c *Config) MaxMemoryBytes() int64 {
	if c.MaxMemoryGB <= 0 {
		return 0
	}
	return int64(c.MaxMemoryGB) << 30
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration through the given lookuper.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the processing settings are usable.
func (c *Config) Validate() error {
	if len(c.FrameProcessors) == 0 || slices.Contains(c.FrameProcessors, "") {
		return ErrNoProcessors
	}
	if c.ExecutionThreadCount < 1 || c.ExecutionQueueCount < 1 {
		return ErrInvalidExecution
	}
	for name, q := range map[string]int{
		"TEMP_FRAME_QUALITY":   c.TempFrameQuality,
		"OUTPUT_IMAGE_QUALITY": c.OutputImageQuality,
		"OUTPUT_VIDEO_QUALITY": c.OutputVideoQuality,
	} {
		if q < 0 || q > 100 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidQuality, name, q)
		}
	}
	if c.TempFrameFormat != "jpg" && c.TempFrameFormat != "png" {
		return fmt.Errorf("%w: %q", ErrInvalidFrameFormat, c.TempFrameFormat)
	}
	if !slices.Contains(media.Encoders, c.OutputVideoEncoder) {
		return fmt.Errorf("%w: %q", ErrInvalidEncoder, c.OutputVideoEncoder)
	}
	if c.ModerationThreshold <= 0 || c.ModerationThreshold > 1 || c.ModerationFrameInterval <= 0 {
		return ErrInvalidModeration
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FrameProcessors: %s, Threads: %d, Queue: %d, Encoder: %s, ModerationEndpoint: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		strings.Join(c.FrameProcessors, ","),
		c.ExecutionThreadCount,
		c.ExecutionQueueCount,
		c.OutputVideoEncoder,
		c.ModerationEndpoint,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
