package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/framefusion/internal/bootstrap"
	"github.com/maauso/framefusion/internal/config"
	"github.com/maauso/framefusion/internal/job"
	"github.com/maauso/framefusion/internal/media"
	"github.com/maauso/framefusion/internal/processor"
	"github.com/maauso/framefusion/internal/progress"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// runOptions holds the flag values of a headless run.
type runOptions struct {
	source     string
	target     string
	output     string
	processors []string

	threads   int
	queue     int
	maxMemory int

	trimStart int
	trimEnd   int

	tempFrameFormat    string
	tempFrameQuality   int
	keepTemp           bool
	outputImageQuality int
	outputVideoEncoder string
	outputVideoQuality int
	keepFPS            bool
	skipAudio          bool

	pushToS3 bool
	json     bool
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	opts := &runOptions{}

	rootCmd := &cobra.Command{
		Use:           "framefusion",
		Short:         "Run a chain of frame processors over an image or video",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, cfg, opts)
		},
	}

	opts.bindFlags(rootCmd, cfg)
	_ = rootCmd.MarkFlagRequired("target")
	_ = rootCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(newProcessorsCommand(cfg))
	rootCmd.AddCommand(newPreviewCommand(cfg))

	return rootCmd
}

// bindFlags registers the run flags on cmd with defaults taken from cfg.
func (o *runOptions) bindFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.StringVarP(&o.source, "source", "s", "", "Source media handed to every processor")
	flags.StringVarP(&o.target, "target", "t", "", "Image or video to transform")
	flags.StringVarP(&o.output, "output", "o", "", "Output file or existing directory")
	flags.StringSliceVar(&o.processors, "frame-processors", cfg.FrameProcessors, "Ordered frame processors to apply")

	flags.IntVar(&o.threads, "execution-thread-count", cfg.ExecutionThreadCount, "Number of concurrent frame workers")
	flags.IntVar(&o.queue, "execution-queue-count", cfg.ExecutionQueueCount, "Chunks queued per worker")
	flags.IntVar(&o.maxMemory, "max-memory", cfg.MaxMemoryGB, "Soft memory limit in GB (0 disables)")

	flags.IntVar(&o.trimStart, "trim-frame-start", 0, "First frame to keep")
	flags.IntVar(&o.trimEnd, "trim-frame-end", 0, "Frame to stop extraction at")
	flags.StringVar(&o.tempFrameFormat, "temp-frame-format", cfg.TempFrameFormat, "Extracted frame format (jpg or png)")
	flags.IntVar(&o.tempFrameQuality, "temp-frame-quality", cfg.TempFrameQuality, "Extracted frame quality [0-100]")
	flags.BoolVar(&o.keepTemp, "keep-temp", cfg.KeepTemp, "Keep the frame workspace after a successful run")

	flags.IntVar(&o.outputImageQuality, "output-image-quality", cfg.OutputImageQuality, "Output image quality [0-100]")
	flags.StringVar(&o.outputVideoEncoder, "output-video-encoder", cfg.OutputVideoEncoder,
		"Output video encoder ("+strings.Join(media.Encoders, ", ")+")")
	flags.IntVar(&o.outputVideoQuality, "output-video-quality", cfg.OutputVideoQuality, "Output video quality [0-100]")
	flags.BoolVar(&o.keepFPS, "keep-fps", cfg.KeepFPS, "Keep the target's frame rate")
	flags.BoolVar(&o.skipAudio, "skip-audio", cfg.SkipAudio, "Do not restore the target's audio")

	flags.BoolVar(&o.pushToS3, "push-to-s3", false, "Upload the output to the configured S3 bucket")
	flags.BoolVar(&o.json, "json", false, "Print the final job as JSON")
}

func newProcessorsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "processors",
		Short: "List the available frame processors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := processor.NewRegistry(processor.Options{})
			if err := processor.RegisterBuiltins(registry); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range registry.Names() {
				marker := " "
				if slices.Contains(cfg.FrameProcessors, name) {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

// newPreviewCommand renders an image target through the processors once,
// without moderation or a job. Processors that decline a preview are skipped.
func newPreviewCommand(cfg *config.Config) *cobra.Command {
	var source, target, output string
	processors := cfg.FrameProcessors

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render a single image through the frame processors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !media.IsImage(target) {
				return fmt.Errorf("preview needs an image target: %s", target)
			}

			registry := processor.NewRegistry(processor.Options{
				FrameQuality: cfg.TempFrameQuality,
				SharpenSigma: cfg.SharpenSigma,
				Logger:       runLogger(cmd, cfg),
			})
			if err := processor.RegisterBuiltins(registry); err != nil {
				return err
			}
			defer registry.Clear()
			modules, err := registry.Acquire(processors)
			if err != nil {
				return err
			}
			defer registry.Release(modules)

			frame, err := processor.ReadFrame(target)
			if err != nil {
				return err
			}
			var sourceFrame image.Image
			if source != "" {
				if sourceFrame, err = processor.ReadFrame(source); err != nil {
					return err
				}
			}

			out, declined, err := processor.Preview(sourceFrame, frame, modules)
			if err != nil {
				return err
			}
			for _, name := range declined {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s\n", name)
			}
			if err := processor.WriteFrame(output, out, cfg.OutputImageQuality); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preview written to %s\n", output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&source, "source", "s", "", "Source image handed to every processor")
	flags.StringVarP(&target, "target", "t", "", "Image to preview")
	flags.StringVarP(&output, "output", "o", "", "Where to write the preview")
	flags.StringSliceVar(&processors, "frame-processors", processors, "Ordered frame processors to apply")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// jobConfig builds the job configuration from flags. Trim bounds are only
// set when given explicitly.
func (o *runOptions) jobConfig(cmd *cobra.Command, cfg *config.Config) job.Config {
	jc := bootstrap.JobDefaults(cfg)
	jc.SourcePath = o.source
	jc.TargetPath = o.target
	jc.OutputPath = o.output
	jc.Processors = o.processors
	jc.ThreadCount = o.threads
	jc.QueueCount = o.queue
	jc.TempFrameFormat = o.tempFrameFormat
	jc.TempFrameQuality = o.tempFrameQuality
	jc.KeepTemp = o.keepTemp
	jc.OutputImageQuality = o.outputImageQuality
	jc.OutputVideoEncoder = o.outputVideoEncoder
	jc.OutputVideoQuality = o.outputVideoQuality
	jc.KeepFPS = o.keepFPS
	jc.SkipAudio = o.skipAudio
	jc.PushToS3 = o.pushToS3

	if cmd.Flags().Changed("trim-frame-start") {
		start := o.trimStart
		jc.TrimStart = &start
	}
	if cmd.Flags().Changed("trim-frame-end") {
		end := o.trimEnd
		jc.TrimEnd = &end
	}
	return jc
}

func runJob(cmd *cobra.Command, cfg *config.Config, opts *runOptions) error {
	runCfg := *cfg
	runCfg.MaxMemoryGB = opts.maxMemory
	runCfg.TempFrameQuality = opts.tempFrameQuality
	if err := runCfg.Validate(); err != nil {
		return err
	}

	logger := runLogger(cmd, &runCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, &runCfg, logger,
		job.WithProgressSink(progress.ConsoleSink(cmd.ErrOrStderr(), logger)),
	)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = deps.Close(closeCtx)
	}()

	jc := opts.jobConfig(cmd, &runCfg)
	finished, runErr := deps.JobService.Run(ctx, jc)
	if finished == nil {
		return runErr
	}

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(finished); err != nil {
			return err
		}
	} else {
		printSummary(cmd, finished)
	}

	if errors.Is(runErr, job.ErrCancelled) {
		return context.Canceled
	}
	return runErr
}

func runLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := cfg.NewLoggerTo(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}

func printSummary(cmd *cobra.Command, j *job.Job) {
	out := cmd.OutOrStdout()
	switch j.Status {
	case job.StatusDone:
		fmt.Fprintf(out, "processing to %s succeeded in %s\n", j.OutputPath, j.CompletedAt.Sub(j.StartedAt).Round(time.Millisecond))
		if j.OutputURL != "" {
			fmt.Fprintf(out, "published to %s\n", j.OutputURL)
		}
	case job.StatusAborted:
		fmt.Fprintf(out, "processing aborted: %s\n", j.Reason)
	case job.StatusCancelled:
		fmt.Fprintln(out, "processing cancelled")
	default:
		fmt.Fprintf(out, "processing failed: %s\n", j.Error)
	}
}
