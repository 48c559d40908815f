package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/framefusion/internal/dispatch"
	"github.com/maauso/framefusion/internal/media"
	"github.com/maauso/framefusion/internal/moderation"
	"github.com/maauso/framefusion/internal/processor"
	"github.com/maauso/framefusion/internal/progress"
	"github.com/maauso/framefusion/internal/storage"
)

// Moderator decides whether a target may be processed.
type Moderator interface {
	ImageDisallowed(ctx context.Context, path string) (bool, error)
	VideoDisallowed(ctx context.Context, path string) (bool, error)
}

// ModuleLoader resolves module names to instances, in order. Instances
// returned by Acquire stay resident until they are released.
type ModuleLoader interface {
	Resolve(names []string) error
	Acquire(names []string) ([]processor.Module, error)
	Release(modules []processor.Module)
}

// toolkitChecker is implemented by toolkits that can verify their external
// binaries are installed.
type toolkitChecker interface {
	Available() error
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher enables uploading outputs of jobs that set PushToS3.
func WithPublisher(p storage.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithProgressSink adds a sink that receives every progress snapshot.
func WithProgressSink(sink progress.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithWorkspaceRoot sets the directory under which job workspaces are created.
func WithWorkspaceRoot(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.root = dir
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultFrameRate sets the frame rate used when KeepFPS is off or
// detection fails.
func WithDefaultFrameRate(fps float64) Option {
	return func(s *Service) {
		if fps > 0 {
			s.defaultFPS = fps
		}
	}
}

// Service orchestrates jobs: moderation, frame extraction, the module chain,
// reassembly, audio and cleanup. It is safe for concurrent use.
type Service struct {
	repo       Repository
	loader     ModuleLoader
	toolkit    media.Toolkit
	moderator  Moderator
	publisher  storage.Publisher
	sink       progress.Sink
	root       string
	defaultFPS float64
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingJob
	runs    map[string]*run
	serial  map[string]chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// pendingJob is a created job waiting to be processed.
type pendingJob struct {
	job *Job
	cfg Config
}

// run tracks one executing job.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	ws          *storage.Workspace
	wroteOutput bool
}

func (r *run) setWorkspace(ws *storage.Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ws = ws
}

func (r *run) workspace() *storage.Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ws
}

func (r *run) markOutput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wroteOutput = true
}

func (r *run) outputWritten() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wroteOutput
}

// NewService creates a Service. A nil moderator allows every target.
func NewService(repo Repository, loader ModuleLoader, toolkit media.Toolkit, moderator Moderator, opts ...Option) *Service {
	if moderator == nil {
		moderator = moderation.Permissive{}
	}
	s := &Service{
		repo:       repo,
		loader:     loader,
		toolkit:    toolkit,
		moderator:  moderator,
		root:       storage.DefaultRoot(),
		defaultFPS: DefaultFrameRate,
		logger:     slog.Default(),
		pending:    make(map[string]pendingJob),
		runs:       make(map[string]*run),
		serial:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates cfg, resolves its output path and checks every module
// name resolves. The job is stored in IDLE state and runs on Process or Start.
func (s *Service) CreateJob(ctx context.Context, cfg Config) (*Job, error) {
	if s.isClosed() {
		return nil, ErrShuttingDown
	}
	cfg.OutputPath = ResolveOutputPath(cfg.SourcePath, cfg.TargetPath, cfg.OutputPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PushToS3 && s.publisher == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, storage.ErrS3NotConfigured)
	}
	if err := s.loader.Resolve(cfg.Processors); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	job := New()
	job.SourcePath = cfg.SourcePath
	job.TargetPath = cfg.TargetPath
	job.OutputPath = cfg.OutputPath

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("target", cfg.TargetPath),
		slog.String("output", cfg.OutputPath),
		slog.Any("processors", cfg.Processors),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	s.pending[job.ID] = pendingJob{job: job, cfg: cfg}
	return job.Clone(), nil
}

// Start creates a job and processes it in the background. The returned job
// is the IDLE snapshot; use GetJob or Wait to follow it.
func (s *Service) Start(ctx context.Context, cfg Config) (*Job, error) {
	job, err := s.CreateJob(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// The job must outlive the request that created it.
	r, p, err := s.begin(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, err
	}
	go func() {
		_ = s.execute(r, p, "")
	}()
	return job, nil
}

// Process runs a created job to completion, choosing the image or video path
// from the target's content type.
func (s *Service) Process(ctx context.Context, jobID string) error {
	r, p, err := s.begin(ctx, jobID)
	if err != nil {
		return err
	}
	return s.execute(r, p, "")
}

// Run creates and processes a job synchronously and returns its final state.
func (s *Service) Run(ctx context.Context, cfg Config) (*Job, error) {
	return s.runAs(ctx, cfg, "")
}

// ProcessImage runs cfg as an image job and returns its final state.
func (s *Service) ProcessImage(ctx context.Context, cfg Config) (*Job, error) {
	return s.runAs(ctx, cfg, KindImage)
}

// ProcessVideo runs cfg as a video job and returns its final state.
func (s *Service) ProcessVideo(ctx context.Context, cfg Config) (*Job, error) {
	return s.runAs(ctx, cfg, KindVideo)
}

func (s *Service) runAs(ctx context.Context, cfg Config, kind Kind) (*Job, error) {
	job, err := s.CreateJob(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r, p, err := s.begin(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	err = s.execute(r, p, kind)
	return p.job.Clone(), err
}

// Cancel interrupts a job and returns once it has stopped. Chunks already
// running are allowed to finish; the job's workspace is removed.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	r, running := s.runs[jobID]
	p, pending := s.pending[jobID]
	delete(s.pending, jobID)
	s.mu.Unlock()

	switch {
	case running:
		s.logger.Info("cancelling job", slog.String("job_id", jobID))
		r.cancel()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case pending:
		if err := p.job.Cancel(); err != nil {
			return err
		}
		s.save(ctx, p.job)
		return nil
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, job.Status)
	}
	return ErrJobNotFound
}

// Shutdown cancels every pending and running job and waits for them to stop.
// New jobs are rejected afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.cancel()
	}
	pending := s.pending
	s.pending = make(map[string]pendingJob)
	s.mu.Unlock()

	for _, p := range pending {
		if err := p.job.Cancel(); err == nil {
			s.save(ctx, p.job)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the job stops running and returns its final state.
func (s *Service) Wait(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	r, ok := s.runs[jobID]
	s.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.repo.FindByID(ctx, jobID)
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns every known job, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// begin moves a pending job into the running set.
func (s *Service) begin(parent context.Context, jobID string) (*run, pendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pendingJob{}, ErrShuttingDown
	}
	p, ok := s.pending[jobID]
	if !ok {
		if _, err := s.repo.FindByID(parent, jobID); err != nil {
			return nil, pendingJob{}, err
		}
		return nil, pendingJob{}, fmt.Errorf("%w: %s", ErrJobStarted, jobID)
	}
	delete(s.pending, jobID)

	ctx, cancel := context.WithCancel(parent)
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.runs[jobID] = r
	s.wg.Add(1)
	return r, p, nil
}

// execute runs the pipeline and records the outcome. kind may be empty to
// detect it from the target.
func (s *Service) execute(r *run, p pendingJob, kind Kind) error {
	defer s.end(p.job.ID, r)

	logger := s.logger.With(slog.String("job_id", p.job.ID))
	err := s.pipeline(r.ctx, r, p.job, p.cfg, kind, logger)
	return s.finish(r.ctx, r, p.job, p.cfg, err, logger)
}

func (s *Service) end(jobID string, r *run) {
	s.mu.Lock()
	delete(s.runs, jobID)
	s.mu.Unlock()
	r.cancel()
	close(r.done)
	s.wg.Done()
}

func (s *Service) pipeline(ctx context.Context, r *run, j *Job, cfg Config, kind Kind, logger *slog.Logger) error {
	modules, err := s.loader.Acquire(cfg.Processors)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreCheckFailed, err)
	}
	defer s.loader.Release(modules)
	if err := s.preCheck(ctx, modules); err != nil {
		return err
	}

	if kind == "" {
		switch {
		case media.IsImage(cfg.TargetPath):
			kind = KindImage
		case media.IsVideo(cfg.TargetPath):
			kind = KindVideo
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedTarget, cfg.TargetPath)
		}
	}
	j.setKind(kind)

	if err := s.advance(ctx, j, StatusModerationCheck); err != nil {
		return err
	}
	if kind == KindImage {
		return s.processImage(ctx, r, j, cfg, modules, logger)
	}
	return s.processVideo(ctx, r, j, cfg, modules, logger)
}

func (s *Service) preCheck(ctx context.Context, modules []processor.Module) error {
	if c, ok := s.toolkit.(toolkitChecker); ok {
		if err := c.Available(); err != nil {
			return fmt.Errorf("%w: %w", ErrPreCheckFailed, err)
		}
	}
	for _, m := range modules {
		if err := m.PreCheck(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPreCheckFailed, m.Name(), err)
		}
		if err := m.LoadResource(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPreCheckFailed, m.Name(), err)
		}
	}
	return nil
}

func (s *Service) moderate(ctx context.Context, kind Kind, path string) error {
	check := s.moderator.ImageDisallowed
	if kind == KindVideo {
		check = s.moderator.VideoDisallowed
	}
	disallowed, err := check(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModerationUnavailable, err)
	}
	if disallowed {
		return ErrDisallowedContent
	}
	return nil
}

func (s *Service) processImage(ctx context.Context, r *run, j *Job, cfg Config, modules []processor.Module, logger *slog.Logger) error {
	if err := s.moderate(ctx, KindImage, cfg.TargetPath); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if !samePath(cfg.TargetPath, cfg.OutputPath) {
		r.markOutput()
		if err := storage.CopyFile(cfg.TargetPath, cfg.OutputPath); err != nil {
			return fmt.Errorf("copy target to output: %w", err)
		}
	}

	for _, m := range modules {
		if err := m.PreProcess(processor.PurposeOutput); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrModuleDeclined, m.Name(), err)
		}
		if err := s.advance(ctx, j, StatusProcessing); err != nil {
			return err
		}

		logger.Info("processing image", slog.String("module", m.Name()))
		j.StartModule(m.Name(), 1)
		reporter := s.reporter(ctx, j, 1, 1, 1)
		release, err := s.exclusive(ctx, m)
		if err != nil {
			return err
		}
		err = m.ProcessImage(cfg.SourcePath, cfg.OutputPath, cfg.OutputPath)
		m.PostProcess()
		release()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDispatchFailed, m.Name(), err)
		}
		reporter.Advance()

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}

	if err := s.toolkit.CompressImage(ctx, cfg.OutputPath, cfg.OutputImageQuality); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		logger.Warn("compressing image failed, keeping uncompressed output",
			slog.String("error", err.Error()),
		)
	}
	if err := s.advance(ctx, j, StatusCompressed); err != nil {
		return err
	}

	if !media.IsImage(cfg.OutputPath) {
		return fmt.Errorf("%w: %s is not an image", ErrOutputInvalid, cfg.OutputPath)
	}
	s.publish(ctx, j, cfg, logger)
	return nil
}

func (s *Service) processVideo(ctx context.Context, r *run, j *Job, cfg Config, modules []processor.Module, logger *slog.Logger) error {
	if err := s.moderate(ctx, KindVideo, cfg.TargetPath); err != nil {
		return err
	}
	fps := s.frameRate(ctx, cfg, logger)

	ws, err := storage.NewWorkspace(s.root, j.ID, cfg.TempFrameFormat)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	r.setWorkspace(ws)
	if err := s.advance(ctx, j, StatusWorkspaceReady); err != nil {
		return err
	}

	logger.Info("extracting frames", slog.Float64("fps", fps), slog.String("workspace", ws.Dir()))
	err = s.toolkit.ExtractFrames(ctx, media.ExtractRequest{
		TargetPath:   cfg.TargetPath,
		FramePattern: ws.FramePattern(),
		FPS:          fps,
		Quality:      cfg.TempFrameQuality,
		TrimStart:    cfg.TrimStart,
		TrimEnd:      cfg.TrimEnd,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	frames, err := ws.FramePaths()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if len(frames) == 0 {
		return ErrFramesNotFound
	}
	if err := s.advance(ctx, j, StatusFramesExtracted); err != nil {
		return err
	}

	for _, m := range modules {
		if err := m.PreProcess(processor.PurposeOutput); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrModuleDeclined, m.Name(), err)
		}
		if err := s.advance(ctx, j, StatusProcessing); err != nil {
			return err
		}
		if err := s.dispatchModule(ctx, j, cfg, m, frames, logger); err != nil {
			return err
		}
	}

	logger.Info("merging video", slog.Float64("fps", fps), slog.String("encoder", cfg.OutputVideoEncoder))
	err = s.toolkit.MergeFrames(ctx, media.MergeRequest{
		FramePattern: ws.FramePattern(),
		OutputPath:   ws.TempVideoPath(),
		FPS:          fps,
		Encoder:      cfg.OutputVideoEncoder,
		Quality:      cfg.OutputVideoQuality,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	if err := s.advance(ctx, j, StatusReassembled); err != nil {
		return err
	}

	if err := s.handleAudio(ctx, r, ws, cfg, fps, logger); err != nil {
		return err
	}
	if err := s.advance(ctx, j, StatusAudioHandled); err != nil {
		return err
	}

	if cfg.KeepTemp {
		if err := ws.Release(); err != nil {
			logger.Warn("releasing workspace failed", slog.String("error", err.Error()))
		}
	} else if err := ws.Clear(); err != nil {
		logger.Warn("clearing workspace failed", slog.String("error", err.Error()))
	}
	if err := s.advance(ctx, j, StatusCleaned); err != nil {
		return err
	}

	if !media.IsVideo(cfg.OutputPath) {
		return fmt.Errorf("%w: %s is not a video", ErrOutputInvalid, cfg.OutputPath)
	}
	s.publish(ctx, j, cfg, logger)
	return nil
}

// frameRate returns the rate frames are extracted and merged at.
func (s *Service) frameRate(ctx context.Context, cfg Config, logger *slog.Logger) float64 {
	if !cfg.KeepFPS {
		return s.defaultFPS
	}
	fps, err := s.toolkit.DetectFrameRate(ctx, cfg.TargetPath)
	if err != nil {
		logger.Warn("detecting frame rate failed, using default",
			slog.Float64("fps", s.defaultFPS),
			slog.String("error", err.Error()),
		)
		return s.defaultFPS
	}
	return fps
}

// dispatchModule runs one module over every frame.
func (s *Service) dispatchModule(ctx context.Context, j *Job, cfg Config, m processor.Module, frames []string, logger *slog.Logger) error {
	workers := cfg.ThreadCount
	if m.Concurrency() == processor.Serial {
		workers = 1
	}

	logger.Info("processing frames",
		slog.String("module", m.Name()),
		slog.Int("frames", len(frames)),
		slog.Int("workers", workers),
		slog.Int("chunk_size", dispatch.ChunkSize(len(frames), workers, cfg.QueueCount)),
	)

	j.StartModule(m.Name(), len(frames))
	reporter := s.reporter(ctx, j, len(frames), workers, cfg.QueueCount)
	release, err := s.exclusive(ctx, m)
	if err != nil {
		return err
	}
	err = dispatch.Run(ctx, frames, func(chunk []string, done func()) error {
		return m.ProcessFrames(cfg.SourcePath, chunk, done)
	}, dispatch.Options{
		Workers:    workers,
		Multiplier: cfg.QueueCount,
		OnUnitDone: reporter.Advance,
	})
	m.PostProcess()
	release()

	switch {
	case errors.Is(err, dispatch.ErrInterrupted):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case err != nil:
		return fmt.Errorf("%w: %s: %w", ErrDispatchFailed, m.Name(), err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return nil
}

// exclusive waits until no other job is running m when m is Serial. The
// returned func gives the module back.
func (s *Service) exclusive(ctx context.Context, m processor.Module) (func(), error) {
	if m.Concurrency() != processor.Serial {
		return func() {}, nil
	}

	s.mu.Lock()
	gate, ok := s.serial[m.Name()]
	if !ok {
		gate = make(chan struct{}, 1)
		s.serial[m.Name()] = gate
	}
	s.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// handleAudio writes the final video, with the target's audio unless
// skipped. A failed restore falls back to the silent merged video.
func (s *Service) handleAudio(ctx context.Context, r *run, ws *storage.Workspace, cfg Config, fps float64, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	r.markOutput()

	if !cfg.SkipAudio {
		err := s.toolkit.RestoreAudio(ctx, media.AudioRequest{
			TargetPath: cfg.TargetPath,
			VideoPath:  ws.TempVideoPath(),
			OutputPath: cfg.OutputPath,
			FPS:        fps,
			TrimStart:  cfg.TrimStart,
			TrimEnd:    cfg.TrimEnd,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		logger.Warn("restoring audio failed, keeping video without audio",
			slog.String("error", err.Error()),
		)
	}

	if err := ws.MoveTempVideo(cfg.OutputPath); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputInvalid, err)
	}
	return nil
}

// publish uploads the output when requested. Upload failures keep the local
// output and are only logged.
func (s *Service) publish(ctx context.Context, j *Job, cfg Config, logger *slog.Logger) {
	if !cfg.PushToS3 || s.publisher == nil {
		j.SetOutput(cfg.OutputPath, "")
		return
	}

	key := j.ID + filepath.Ext(cfg.OutputPath)
	url, err := s.publisher.Publish(ctx, key, cfg.OutputPath)
	if err != nil {
		logger.Warn("publishing output failed", slog.String("error", err.Error()))
		j.SetOutput(cfg.OutputPath, "")
		return
	}
	logger.Info("output published", slog.String("url", url))
	j.SetOutput(cfg.OutputPath, url)
}

// reporter creates a progress reporter that mirrors completion onto j and
// the configured sink.
func (s *Service) reporter(ctx context.Context, j *Job, total, threads, queueCount int) *progress.Reporter {
	lastPercent := -1
	track := progress.SinkFunc(func(snap progress.Snapshot) {
		j.UpdateProgress(snap.Completed, snap.Total, snap.MemoryBytes)
		if p := snap.Percent(); p != lastPercent {
			lastPercent = p
			s.save(ctx, j)
		}
	})
	return progress.NewReporter(j.ID, total, threads, queueCount, track, s.sink)
}

// finish moves the job to its terminal state and decides what happens to the
// workspace and any partial output.
func (s *Service) finish(ctx context.Context, r *run, j *Job, cfg Config, err error, logger *slog.Logger) error {
	ws := r.workspace()

	switch {
	case err == nil:
		if terr := j.TransitionTo(StatusDone); terr != nil {
			err = terr
			_ = j.Fail(terr.Error())
			break
		}
		logger.Info("job completed", slog.String("output", cfg.OutputPath))

	case ctx.Err() != nil || errors.Is(err, ErrCancelled):
		s.clearWorkspace(ws, logger)
		s.removeOutput(r, cfg, logger)
		_ = j.Cancel()
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		logger.Warn("job cancelled")

	case reasonFor(err) != "":
		reason := reasonFor(err)
		if retainsWorkspace(err) {
			if ws != nil {
				_ = ws.Release()
				logger.Warn("workspace retained", slog.String("workspace", ws.Dir()))
			}
		} else {
			s.clearWorkspace(ws, logger)
		}
		s.removeOutput(r, cfg, logger)
		_ = j.Abort(reason, err)
		logger.Warn("job aborted",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

	default:
		if !cfg.KeepTemp {
			s.clearWorkspace(ws, logger)
		} else if ws != nil {
			_ = ws.Release()
		}
		_ = j.Fail(err.Error())
		logger.Error("job failed", slog.String("error", err.Error()))
	}

	s.save(ctx, j)
	return err
}

// retainsWorkspace reports whether the workspace is kept for diagnosis.
func retainsWorkspace(err error) bool {
	return errors.Is(err, ErrFramesNotFound) ||
		errors.Is(err, ErrExtractionFailed) ||
		errors.Is(err, ErrDispatchFailed) ||
		errors.Is(err, ErrMergeFailed)
}

func (s *Service) clearWorkspace(ws *storage.Workspace, logger *slog.Logger) {
	if ws == nil {
		return
	}
	if err := ws.Clear(); err != nil {
		logger.Warn("clearing workspace failed", slog.String("error", err.Error()))
	}
}

func (s *Service) removeOutput(r *run, cfg Config, logger *slog.Logger) {
	if !r.outputWritten() || samePath(cfg.TargetPath, cfg.OutputPath) {
		return
	}
	if err := os.Remove(cfg.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("removing partial output failed", slog.String("error", err.Error()))
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// advance transitions j and saves the new state.
func (s *Service) advance(ctx context.Context, j *Job, status Status) error {
	if err := j.TransitionTo(status); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	s.save(ctx, j)
	return nil
}

// save stores a snapshot of j. It runs even after the job was cancelled.
func (s *Service) save(ctx context.Context, j *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
