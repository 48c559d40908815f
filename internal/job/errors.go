package job

import (
	"errors"

	"github.com/maauso/framefusion/internal/processor"
)

// Errors reported by the orchestrator. Configuration errors are returned
// before a job runs; the rest end a running job.
var (
	// ErrInvalidConfig is returned when a job configuration fails validation.
	ErrInvalidConfig = errors.New("job: invalid configuration")
	// ErrUnknownModule is returned when a configured module is not registered.
	ErrUnknownModule = processor.ErrUnknownModule
	// ErrUnsupportedTarget is returned when the target is neither an image nor a video.
	ErrUnsupportedTarget = errors.New("job: target is neither an image nor a video")
	// ErrPreCheckFailed is returned when a module's pre-check rejects the run.
	ErrPreCheckFailed = errors.New("job: pre-check failed")
	// ErrDisallowedContent is returned when moderation rejects the target.
	ErrDisallowedContent = errors.New("job: disallowed content")
	// ErrModerationUnavailable is returned when the moderation check itself failed.
	ErrModerationUnavailable = errors.New("job: moderation unavailable")
	// ErrExtractionFailed is returned when frames could not be extracted.
	ErrExtractionFailed = errors.New("job: extracting frames failed")
	// ErrFramesNotFound is returned when extraction produced no frames.
	ErrFramesNotFound = errors.New("job: frames not found")
	// ErrModuleDeclined is returned when a module refuses to take part.
	ErrModuleDeclined = errors.New("job: module declined")
	// ErrDispatchFailed is returned when a module failed on a chunk of frames.
	ErrDispatchFailed = errors.New("job: processing frames failed")
	// ErrMergeFailed is returned when the processed frames could not be merged.
	ErrMergeFailed = errors.New("job: merging video failed")
	// ErrOutputInvalid is returned when the final output fails validation.
	ErrOutputInvalid = errors.New("job: output is invalid")
	// ErrCancelled is returned when the job was interrupted.
	ErrCancelled = errors.New("job: cancelled")
	// ErrJobStarted is returned when a job is processed twice.
	ErrJobStarted = errors.New("job: already started")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job: already finished")
	// ErrShuttingDown is returned when a job is submitted after Shutdown.
	ErrShuttingDown = errors.New("job: service is shutting down")
)

// abortReasons maps abort causes to the reason recorded on the job.
var abortReasons = []struct {
	err    error
	reason string
}{
	{ErrUnsupportedTarget, "unsupported target"},
	{ErrPreCheckFailed, "pre-check failed"},
	{ErrDisallowedContent, "disallowed content"},
	{ErrModerationUnavailable, "moderation unavailable"},
	{ErrExtractionFailed, "extracting frames failed"},
	{ErrFramesNotFound, "frames not found"},
	{ErrModuleDeclined, "module declined"},
	{ErrDispatchFailed, "processing frames failed"},
	{ErrMergeFailed, "merging video failed"},
}

// reasonFor returns the abort reason for err, or "" when err does not abort.
func reasonFor(err error) string {
	for _, r := range abortReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}
