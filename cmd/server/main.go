// Package main provides the entry point for the framefusion HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/framefusion/internal/bootstrap"
	"github.com/maauso/framefusion/internal/config"
	"github.com/maauso/framefusion/internal/job"
	"github.com/maauso/framefusion/internal/progress"
	"github.com/maauso/framefusion/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting framefusion server",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Any("frame_processors", cfg.FrameProcessors),
		slog.Int("execution_thread_count", cfg.ExecutionThreadCount),
		slog.Int("execution_queue_count", cfg.ExecutionQueueCount),
		slog.Bool("moderation_enabled", cfg.ModerationEnabled()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(context.Background(), cfg, logger,
		job.WithProgressSink(progress.LogSink(logger)),
	)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	handlers := server.NewHandlers(deps.JobService, deps.Registry, bootstrap.JobDefaults(cfg), logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	if err := shutdown(srv, deps, shutdownTimeout, logger); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}

const shutdownTimeout = 30 * time.Second

// jobStopper cancels running jobs and clears their workspaces.
type jobStopper interface {
	Close(ctx context.Context) error
}

// shutdown drains HTTP traffic, then stops every job. Jobs are stopped even
// when draining fails, each step with its own deadline.
func shutdown(srv *http.Server, jobs jobStopper, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("shutting down server...")

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	var httpErr error
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
		httpErr = fmt.Errorf("shutdown failed: %w", err)
	}

	jobsCtx, cancelJobs := context.WithTimeout(context.Background(), timeout)
	defer cancelJobs()
	var jobsErr error
	if err := jobs.Close(jobsCtx); err != nil {
		jobsErr = fmt.Errorf("stop jobs: %w", err)
	}

	return errors.Join(httpErr, jobsErr)
}
