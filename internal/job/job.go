// Package job provides the Job aggregate and the Service that drives an image
// or video through moderation, frame extraction, the module chain and
// reassembly.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/framefusion/internal/job/id"
)

// Kind is the type of target a job processes.
type Kind string

const (
	// KindImage is a still image target.
	KindImage Kind = "image"
	// KindVideo is a video target.
	KindVideo Kind = "video"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusIdle indicates the job was created but has not started.
	StatusIdle Status = "IDLE"
	// StatusModerationCheck indicates the target is being moderated.
	StatusModerationCheck Status = "MODERATION_CHECK"
	// StatusWorkspaceReady indicates the frame workspace exists.
	StatusWorkspaceReady Status = "WORKSPACE_READY"
	// StatusFramesExtracted indicates frames were written to the workspace.
	StatusFramesExtracted Status = "FRAMES_EXTRACTED"
	// StatusProcessing indicates a module is transforming frames.
	StatusProcessing Status = "PROCESSING"
	// StatusReassembled indicates frames were merged into a video.
	StatusReassembled Status = "REASSEMBLED"
	// StatusAudioHandled indicates audio was restored or skipped.
	StatusAudioHandled Status = "AUDIO_HANDLED"
	// StatusCleaned indicates the workspace was cleared or retained on request.
	StatusCleaned Status = "CLEANED"
	// StatusCompressed indicates the image output went through compression.
	StatusCompressed Status = "COMPRESSED"
	// StatusDone indicates the output was produced and validated.
	StatusDone Status = "DONE"
	// StatusFailed indicates the output failed validation or an unexpected error occurred.
	StatusFailed Status = "FAILED"
	// StatusAborted indicates the job stopped early for a specific reason.
	StatusAborted Status = "ABORTED"
	// StatusCancelled indicates the job was interrupted.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which forward transitions are allowed. Every
// non-terminal state may additionally move to Aborted, Failed or Cancelled.
var validTransitions = map[Status][]Status{
	StatusIdle:            {StatusModerationCheck},
	StatusModerationCheck: {StatusWorkspaceReady, StatusProcessing},
	StatusWorkspaceReady:  {StatusFramesExtracted},
	StatusFramesExtracted: {StatusProcessing},
	StatusProcessing:      {StatusProcessing, StatusReassembled, StatusCompressed},
	StatusReassembled:     {StatusAudioHandled},
	StatusAudioHandled:    {StatusCleaned},
	StatusCleaned:         {StatusDone},
	StatusCompressed:      {StatusDone},
	StatusDone:            {},
	StatusFailed:          {},
	StatusAborted:         {},
	StatusCancelled:       {},
}

// IsTerminal returns true if no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusAborted || s == StatusCancelled
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	if !from.IsTerminal() && (to == StatusAborted || to == StatusFailed || to == StatusCancelled) {
		return true
	}
	return slices.Contains(allowed, to)
}

// Job represents one processing run over a single target.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Kind is image or video, set when processing starts.
	Kind Kind
	// Status is the current job state.
	Status Status
	// Reason explains why the job was aborted.
	Reason string
	// Error contains the underlying error message, if any.
	Error string
	// Module is the name of the module currently processing frames.
	Module string
	// Completed is the number of frames the current module has finished.
	Completed int
	// Total is the number of frames the current module must process.
	Total int
	// Progress is the percentage of completion (0-100) of the current module.
	Progress int
	// MemoryBytes is the last observed process memory.
	MemoryBytes uint64
	// SourcePath is the optional source asset.
	SourcePath string
	// TargetPath is the image or video being transformed.
	TargetPath string
	// OutputPath is where the result is written.
	OutputPath string
	// OutputURL is the S3 URL if the output was published.
	OutputURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IDLE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IDLE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch {
	case status == StatusModerationCheck:
		j.StartedAt = j.UpdatedAt
	case status.IsTerminal():
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Abort transitions the job to ABORTED with a reason and optional cause.
func (j *Job) Abort(reason string, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusAborted); err != nil {
		return err
	}
	j.Reason = reason
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}

// Fail transitions the job to FAILED state with an error message.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// StartModule records the module about to process total frames and resets
// the progress counters.
func (j *Job) StartModule(name string, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Module = name
	j.Completed = 0
	j.Total = total
	j.Progress = 0
	j.UpdatedAt = time.Now()
}

// UpdateProgress records completed units out of total. Completed never
// decreases within one module.
func (j *Job) UpdateProgress(completed, total int, memoryBytes uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if completed < j.Completed {
		return
	}
	j.Completed = completed
	j.Total = total
	j.MemoryBytes = memoryBytes
	if total > 0 {
		j.Progress = min(completed*100/total, 100)
	}
	j.UpdatedAt = time.Now()
}

func (j *Job) setKind(kind Kind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Kind = kind
}

// SetOutput sets the output path and optional S3 URL.
func (j *Job) SetOutput(path, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.OutputURL = url
	j.UpdatedAt = time.Now()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Reason:      j.Reason,
		Error:       j.Error,
		Module:      j.Module,
		Completed:   j.Completed,
		Total:       j.Total,
		Progress:    j.Progress,
		MemoryBytes: j.MemoryBytes,
		SourcePath:  j.SourcePath,
		TargetPath:  j.TargetPath,
		OutputPath:  j.OutputPath,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
