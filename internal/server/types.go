// Package server provides the HTTP control surface for framefusion.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a new job. Paths
// refer to the server's filesystem. Unset options fall back to the server's
// configured defaults.
type CreateJobRequest struct {
	// SourcePath is the optional source media handed to every module.
	SourcePath string `json:"source_path"`
	// TargetPath is the image or video to transform.
	TargetPath string `json:"target_path" validate:"required"`
	// OutputPath is the output file or an existing directory.
	OutputPath string `json:"output_path" validate:"required"`
	// FrameProcessors is the ordered module chain.
	FrameProcessors []string `json:"frame_processors" validate:"omitempty,dive,required"`
	// ExecutionThreadCount is the number of concurrent workers.
	ExecutionThreadCount int `json:"execution_thread_count" validate:"omitempty,min=1,max=128"`
	// ExecutionQueueCount is the chunks-per-worker multiplier.
	ExecutionQueueCount int `json:"execution_queue_count" validate:"omitempty,min=1,max=32"`
	// KeepFPS keeps the target's frame rate instead of the default.
	KeepFPS *bool `json:"keep_fps"`
	// TrimFrameStart is the first frame to keep.
	TrimFrameStart *int `json:"trim_frame_start" validate:"omitempty,min=0"`
	// TrimFrameEnd is the frame to stop at.
	TrimFrameEnd *int `json:"trim_frame_end" validate:"omitempty,min=1"`
	// TempFrameFormat is jpg or png.
	TempFrameFormat string `json:"temp_frame_format" validate:"omitempty,oneof=jpg png"`
	// TempFrameQuality is the quality of extracted frames.
	TempFrameQuality *int `json:"temp_frame_quality" validate:"omitempty,min=0,max=100"`
	// OutputImageQuality is the quality of compressed image outputs.
	OutputImageQuality *int `json:"output_image_quality" validate:"omitempty,min=0,max=100"`
	// OutputVideoEncoder selects the ffmpeg encoder.
	OutputVideoEncoder string `json:"output_video_encoder"`
	// OutputVideoQuality is the quality of merged videos.
	OutputVideoQuality *int `json:"output_video_quality" validate:"omitempty,min=0,max=100"`
	// SkipAudio disables restoring the target's audio.
	SkipAudio *bool `json:"skip_audio"`
	// KeepTemp keeps the workspace after a successful run.
	KeepTemp *bool `json:"keep_temp"`
	// PushToS3 indicates whether to upload the final output to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind,omitempty"`
	Status      string     `json:"status"`
	Module      string     `json:"module,omitempty"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
	Progress    int        `json:"progress"`
	MemoryBytes uint64     `json:"memory_bytes,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	TargetPath  string     `json:"target_path"`
	OutputPath  string     `json:"output_path"`
	OutputURL   string     `json:"output_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ProcessorsResponse lists the registered transformation modules.
type ProcessorsResponse struct {
	Processors []string `json:"processors"`
	Defaults   []string `json:"defaults"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
