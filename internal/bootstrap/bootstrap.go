// Package bootstrap wires configuration into the processing service shared by
// the HTTP server and the command line.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/maauso/framefusion/internal/config"
	"github.com/maauso/framefusion/internal/job"
	"github.com/maauso/framefusion/internal/media"
	"github.com/maauso/framefusion/internal/moderation"
	"github.com/maauso/framefusion/internal/processor"
	"github.com/maauso/framefusion/internal/storage"
)

// Dependencies holds all initialized dependencies.
type Dependencies struct {
	Registry   *processor.Registry
	Toolkit    *media.FFmpegToolkit
	JobService *job.Service
}

// NewDependencies creates and initializes all dependencies for the application.
// Extra options are applied to the job service after the configured ones.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...job.Option) (*Dependencies, error) {
	applyMemoryLimit(cfg, logger)

	registry := processor.NewRegistry(processor.Options{
		FrameQuality: cfg.TempFrameQuality,
		SharpenSigma: cfg.SharpenSigma,
		Logger:       logger,
	})
	if err := processor.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("register frame processors: %w", err)
	}

	toolkit := media.NewFFmpegToolkit(cfg.FFmpegPath, cfg.FFprobePath)

	moderator, err := initModerator(cfg, toolkit, logger)
	if err != nil {
		return nil, err
	}

	svcOpts := []job.Option{
		job.WithWorkspaceRoot(cfg.TempDir),
		job.WithLogger(logger),
	}
	publisher, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		svcOpts = append(svcOpts, job.WithPublisher(publisher))
	}
	svcOpts = append(svcOpts, opts...)

	svc := job.NewService(job.NewMemoryRepository(), registry, toolkit, moderator, svcOpts...)

	return &Dependencies{
		Registry:   registry,
		Toolkit:    toolkit,
		JobService: svc,
	}, nil
}

// Close cancels running jobs and releases every module resource.
func (d *Dependencies) Close(ctx context.Context) error {
	err := d.JobService.Shutdown(ctx)
	d.Registry.Clear()
	return err
}

// JobDefaults returns a job configuration populated from cfg. Paths are left
// empty for the caller to fill in.
func JobDefaults(cfg *config.Config) job.Config {
	jc := job.DefaultConfig()
	jc.Processors = append([]string(nil), cfg.FrameProcessors...)
	jc.ThreadCount = cfg.ExecutionThreadCount
	jc.QueueCount = cfg.ExecutionQueueCount
	jc.KeepFPS = cfg.KeepFPS
	jc.TempFrameFormat = cfg.TempFrameFormat
	jc.TempFrameQuality = cfg.TempFrameQuality
	jc.OutputImageQuality = cfg.OutputImageQuality
	jc.OutputVideoEncoder = cfg.OutputVideoEncoder
	jc.OutputVideoQuality = cfg.OutputVideoQuality
	jc.SkipAudio = cfg.SkipAudio
	jc.KeepTemp = cfg.KeepTemp
	return jc
}

// applyMemoryLimit sets the runtime soft memory limit from MAX_MEMORY_GB.
func applyMemoryLimit(cfg *config.Config, logger *slog.Logger) {
	limit := cfg.MaxMemoryBytes()
	if limit == 0 {
		return
	}
	debug.SetMemoryLimit(limit)
	logger.Info("memory limit configured", slog.Int("max_memory_gb", cfg.MaxMemoryGB))
}

// initModerator returns the HTTP-backed moderator when an endpoint is
// configured and a permissive one otherwise.
func initModerator(cfg *config.Config, toolkit *media.FFmpegToolkit, logger *slog.Logger) (job.Moderator, error) {
	if !cfg.ModerationEnabled() {
		logger.Info("content moderation disabled")
		return moderation.Permissive{}, nil
	}

	var clientOpts []moderation.ClientOption
	if cfg.ModerationAPIKey != "" {
		clientOpts = append(clientOpts, moderation.WithAPIKey(cfg.ModerationAPIKey))
	}
	classifier, err := moderation.NewHTTPClassifier(cfg.ModerationEndpoint, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create moderation classifier: %w", err)
	}

	logger.Info("content moderation configured",
		slog.String("endpoint", cfg.ModerationEndpoint),
		slog.Float64("threshold", cfg.ModerationThreshold),
		slog.Int("frame_interval", cfg.ModerationFrameInterval),
	)
	return moderation.NewModerator(classifier, toolkit,
		moderation.WithThreshold(cfg.ModerationThreshold),
		moderation.WithFrameInterval(cfg.ModerationFrameInterval),
		moderation.WithTempDir(cfg.TempDir),
		moderation.WithLogger(logger),
	), nil
}

// initPublisher creates the S3 publisher when S3 is configured.
func initPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Publisher, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}

	publisher, err := storage.NewS3Publisher(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Prefix:          cfg.S3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 publisher: %w", err)
	}
	logger.Info("S3 publishing configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return publisher, nil
}
