package job

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	job := New()

	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("expected generated ID with job- prefix, got %q", job.ID)
	}
	if job.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-job-123"
	job := NewWithID(id)

	if job.ID != id {
		t.Errorf("expected ID %s, got %s", id, job.ID)
	}
	if job.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// Video path
		{"IDLE to MODERATION_CHECK", StatusIdle, StatusModerationCheck, false},
		{"MODERATION_CHECK to WORKSPACE_READY", StatusModerationCheck, StatusWorkspaceReady, false},
		{"WORKSPACE_READY to FRAMES_EXTRACTED", StatusWorkspaceReady, StatusFramesExtracted, false},
		{"FRAMES_EXTRACTED to PROCESSING", StatusFramesExtracted, StatusProcessing, false},
		{"PROCESSING to PROCESSING", StatusProcessing, StatusProcessing, false},
		{"PROCESSING to REASSEMBLED", StatusProcessing, StatusReassembled, false},
		{"REASSEMBLED to AUDIO_HANDLED", StatusReassembled, StatusAudioHandled, false},
		{"AUDIO_HANDLED to CLEANED", StatusAudioHandled, StatusCleaned, false},
		{"CLEANED to DONE", StatusCleaned, StatusDone, false},
		// Image path
		{"MODERATION_CHECK to PROCESSING", StatusModerationCheck, StatusProcessing, false},
		{"PROCESSING to COMPRESSED", StatusProcessing, StatusCompressed, false},
		{"COMPRESSED to DONE", StatusCompressed, StatusDone, false},
		// Early exits
		{"IDLE to ABORTED", StatusIdle, StatusAborted, false},
		{"IDLE to CANCELLED", StatusIdle, StatusCancelled, false},
		{"MODERATION_CHECK to ABORTED", StatusModerationCheck, StatusAborted, false},
		{"FRAMES_EXTRACTED to ABORTED", StatusFramesExtracted, StatusAborted, false},
		{"REASSEMBLED to ABORTED", StatusReassembled, StatusAborted, false},
		{"PROCESSING to CANCELLED", StatusProcessing, StatusCancelled, false},
		{"CLEANED to FAILED", StatusCleaned, StatusFailed, false},
		// Invalid transitions
		{"IDLE to DONE", StatusIdle, StatusDone, true},
		{"IDLE to PROCESSING", StatusIdle, StatusProcessing, true},
		{"WORKSPACE_READY to PROCESSING", StatusWorkspaceReady, StatusProcessing, true},
		{"FRAMES_EXTRACTED to REASSEMBLED", StatusFramesExtracted, StatusReassembled, true},
		{"REASSEMBLED to DONE", StatusReassembled, StatusDone, true},
		{"COMPRESSED to CLEANED", StatusCompressed, StatusCleaned, true},
		{"DONE to IDLE", StatusDone, StatusIdle, true},
		{"DONE to FAILED", StatusDone, StatusFailed, true},
		{"ABORTED to CANCELLED", StatusAborted, StatusCancelled, true},
		{"CANCELLED to PROCESSING", StatusCancelled, StatusProcessing, true},
		{"FAILED to DONE", StatusFailed, StatusDone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_TransitionTimestamps(t *testing.T) {
	job := New()
	before := time.Now()

	if err := job.TransitionTo(StatusModerationCheck); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.StartedAt.Before(before) {
		t.Error("expected StartedAt to be set on moderation check")
	}
	if !job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be unset before a terminal state")
	}

	if err := job.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on a terminal state")
	}
}

func TestJob_Abort(t *testing.T) {
	job := New()
	_ = job.TransitionTo(StatusModerationCheck)

	if err := job.Abort("disallowed content", ErrDisallowedContent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusAborted {
		t.Errorf("expected status %s, got %s", StatusAborted, job.Status)
	}
	if job.Reason != "disallowed content" {
		t.Errorf("expected reason %q, got %q", "disallowed content", job.Reason)
	}
	if job.Error != ErrDisallowedContent.Error() {
		t.Errorf("expected error %q, got %q", ErrDisallowedContent.Error(), job.Error)
	}

	if err := job.Abort("again", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Reason != "disallowed content" {
		t.Error("a rejected abort must not overwrite the reason")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New()
	_ = job.TransitionTo(StatusModerationCheck)

	if err := job.Fail("output is invalid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != "output is invalid" {
		t.Errorf("expected error message 'output is invalid', got %s", job.Error)
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusDone, StatusFailed, StatusAborted, StatusCancelled}

	for _, status := range terminalStates {
		t.Run(string(status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = status

			if err := job.TransitionTo(StatusModerationCheck); err == nil {
				t.Errorf("expected error transitioning from terminal state %s", status)
			}
			if err := job.Cancel(); err == nil {
				t.Errorf("expected error cancelling from terminal state %s", status)
			}
		})
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusIdle, false},
		{StatusModerationCheck, false},
		{StatusProcessing, false},
		{StatusCleaned, false},
		{StatusCompressed, false},
		{StatusDone, true},
		{StatusFailed, true},
		{StatusAborted, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.status

			if job.IsTerminal() != tt.terminal {
				t.Errorf("expected IsTerminal() = %v for status %s", tt.terminal, tt.status)
			}
		})
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := New()
	job.StartModule("mirror", 8)

	job.UpdateProgress(2, 8, 1024)
	if job.Progress != 25 {
		t.Errorf("expected progress 25, got %d", job.Progress)
	}
	if job.MemoryBytes != 1024 {
		t.Errorf("expected memory 1024, got %d", job.MemoryBytes)
	}

	// A stale update is ignored.
	job.UpdateProgress(1, 8, 0)
	if job.Completed != 2 {
		t.Errorf("expected completed 2, got %d", job.Completed)
	}

	job.UpdateProgress(8, 8, 0)
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}

	// The next module starts from zero.
	job.StartModule("sharpen", 8)
	if job.Module != "sharpen" || job.Completed != 0 || job.Progress != 0 {
		t.Errorf("expected reset counters for sharpen, got %s %d %d", job.Module, job.Completed, job.Progress)
	}
}

func TestJob_SetOutput(t *testing.T) {
	job := New()
	job.SetOutput("/tmp/out.mp4", "https://s3.example.com/out.mp4")

	if job.OutputPath != "/tmp/out.mp4" {
		t.Errorf("expected OutputPath /tmp/out.mp4, got %s", job.OutputPath)
	}
	if job.OutputURL != "https://s3.example.com/out.mp4" {
		t.Errorf("expected OutputURL https://s3.example.com/out.mp4, got %s", job.OutputURL)
	}
}

func TestJob_Clone(t *testing.T) {
	job := New()
	job.Kind = KindVideo
	job.Status = StatusProcessing
	job.StartModule("mirror", 10)
	job.UpdateProgress(5, 10, 0)

	clone := job.Clone()

	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.Kind != KindVideo {
		t.Errorf("expected Kind %s, got %s", KindVideo, clone.Kind)
	}
	if clone.Module != "mirror" || clone.Progress != 50 {
		t.Errorf("expected mirror at 50%%, got %s at %d%%", clone.Module, clone.Progress)
	}

	clone.Status = StatusDone
	if job.Status == StatusDone {
		t.Error("modifying clone should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			_ = job.GetStatus()
			_ = job.Clone()
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 100 {
			job.UpdateProgress(i, 100, 0)
		}
		_ = job.TransitionTo(StatusModerationCheck)
	}()
	wg.Wait()

	if job.GetStatus() != StatusModerationCheck {
		t.Errorf("expected status %s, got %s", StatusModerationCheck, job.GetStatus())
	}
}
