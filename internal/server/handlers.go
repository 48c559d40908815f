package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/framefusion/internal/job"
	"github.com/maauso/framefusion/internal/job/id"
)

// ModuleLister reports the registered transformation modules.
type ModuleLister interface {
	Names() []string
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.Service
	modules            ModuleLister
	defaults           job.Config
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance. defaults supplies every job
// option a request leaves unset.
func NewHandlers(service *job.Service, modules ModuleLister, defaults job.Config, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		modules:            modules,
		defaults:           defaults,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListProcessors handles GET /processors requests.
func (h *Handlers) ListProcessors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProcessorsResponse{
		Processors: h.modules.Names(),
		Defaults:   h.defaults.Processors,
	})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	cfg := h.jobConfig(req)

	var (
		created *job.Job
		err     error
	)
	if h.enableAsyncProcess {
		created, err = h.service.Start(r.Context(), cfg)
	} else {
		created, err = h.service.CreateJob(r.Context(), cfg)
	}
	if err != nil {
		switch {
		case errors.Is(err, job.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
		case errors.Is(err, job.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("target", cfg.TargetPath),
		slog.Any("processors", cfg.Processors),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob handles DELETE /jobs/{id} requests. It returns once the job has
// stopped and its workspace is gone.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrJobFinished):
			writeError(w, http.StatusConflict, err.Error(), "JOB_FINISHED")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// jobConfig overlays the request onto the handler defaults.
func (h *Handlers) jobConfig(req CreateJobRequest) job.Config {
	cfg := h.defaults
	cfg.Processors = append([]string(nil), h.defaults.Processors...)
	cfg.SourcePath = req.SourcePath
	cfg.TargetPath = req.TargetPath
	cfg.OutputPath = req.OutputPath
	cfg.TrimStart = req.TrimFrameStart
	cfg.TrimEnd = req.TrimFrameEnd
	cfg.PushToS3 = req.PushToS3

	if len(req.FrameProcessors) > 0 {
		cfg.Processors = req.FrameProcessors
	}
	if req.ExecutionThreadCount > 0 {
		cfg.ThreadCount = req.ExecutionThreadCount
	}
	if req.ExecutionQueueCount > 0 {
		cfg.QueueCount = req.ExecutionQueueCount
	}
	if req.TempFrameFormat != "" {
		cfg.TempFrameFormat = req.TempFrameFormat
	}
	if req.OutputVideoEncoder != "" {
		cfg.OutputVideoEncoder = req.OutputVideoEncoder
	}
	setIfPresent(&cfg.KeepFPS, req.KeepFPS)
	setIfPresent(&cfg.SkipAudio, req.SkipAudio)
	setIfPresent(&cfg.KeepTemp, req.KeepTemp)
	setIfPresent(&cfg.TempFrameQuality, req.TempFrameQuality)
	setIfPresent(&cfg.OutputImageQuality, req.OutputImageQuality)
	setIfPresent(&cfg.OutputVideoQuality, req.OutputVideoQuality)
	return cfg
}

// pathJobID extracts and checks the {id} path value, writing a 400 when it
// is missing or malformed.
func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job ID", "INVALID_JOB_ID")
		return "", false
	}
	return jobID, true
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Module:      j.Module,
		Completed:   j.Completed,
		Total:       j.Total,
		Progress:    j.Progress,
		MemoryBytes: j.MemoryBytes,
		Reason:      j.Reason,
		Error:       j.Error,
		TargetPath:  j.TargetPath,
		OutputPath:  j.OutputPath,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		StartedAt:   timePtr(j.StartedAt),
		CompletedAt: timePtr(j.CompletedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
