package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrInvalidFrameRate is returned when a frame rate cannot be parsed or is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate")
	// ErrInvalidInterval is returned when a sampling interval is not positive.
	ErrInvalidInterval = errors.New("invalid interval: must be positive")
)

// FFmpegToolkit implements Toolkit using the ffmpeg and ffprobe CLIs.
type FFmpegToolkit struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// Compile-time check that FFmpegToolkit implements Toolkit.
var _ Toolkit = (*FFmpegToolkit)(nil)

// NewFFmpegToolkit creates a new FFmpegToolkit.
// Empty paths default to the binaries found via PATH.
func NewFFmpegToolkit(ffmpegPath, ffprobePath string) *FFmpegToolkit {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegToolkit{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available reports whether the ffmpeg binary can be found.
func (p *FFmpegToolkit) Available() error {
	if _, err := exec.LookPath(p.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not installed: %w", err)
	}
	return nil
}

// DetectFrameRate returns the frame rate of the first video stream.
func (p *FFmpegToolkit) DetectFrameRate(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseFrameRate(stdout.String())
}

// parseFrameRate parses ffprobe rates such as "25/1", "30000/1001" or "24".
func parseFrameRate(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if line, _, ok := strings.Cut(raw, "\n"); ok {
		raw = strings.TrimSpace(line)
	}

	num, den, hasDen := strings.Cut(raw, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, raw)
	}
	d := 1.0
	if hasDen {
		d, err = strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, raw)
		}
	}
	fps := n / d
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, raw)
	}
	return fps, nil
}

// ExtractFrames decodes the target into numbered frame files.
func (p *FFmpegToolkit) ExtractFrames(ctx context.Context, req ExtractRequest) error {
	if req.FPS <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, req.FPS)
	}
	return p.runFFmpeg(ctx, extractArgs(req))
}

// MergeFrames encodes the numbered frame files into req.OutputPath.
func (p *FFmpegToolkit) MergeFrames(ctx context.Context, req MergeRequest) error {
	if req.FPS <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, req.FPS)
	}
	return p.runFFmpeg(ctx, mergeArgs(req))
}

// RestoreAudio muxes the target's audio onto the merged video.
func (p *FFmpegToolkit) RestoreAudio(ctx context.Context, req AudioRequest) error {
	if req.FPS <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, req.FPS)
	}
	return p.runFFmpeg(ctx, restoreAudioArgs(req))
}

// CompressImage re-encodes the image at path in place. The encode goes to a
// sibling file that replaces path only on success.
func (p *FFmpegToolkit) CompressImage(ctx context.Context, path string, quality int) error {
	tmp := filepath.Join(filepath.Dir(path), ".compress-"+filepath.Base(path))
	if err := p.runFFmpeg(ctx, compressImageArgs(path, tmp, quality)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace compressed image: %w", err)
	}
	return nil
}

// SampleFrames writes every interval-th frame of the video into dir and
// returns their paths in order.
func (p *FFmpegToolkit) SampleFrames(ctx context.Context, videoPath, dir string, interval int) ([]string, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidInterval, interval)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create sample directory: %w", err)
	}

	args := []string{
		"-i", videoPath,
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, interval),
		"-vsync", "0",
		"-y",
		filepath.Join(dir, "sample_%04d.jpg"),
	}
	if err := p.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "sample_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func extractArgs(req ExtractRequest) []string {
	args := []string{
		"-hwaccel", "auto",
		"-i", req.TargetPath,
		"-q:v", strconv.Itoa(compression(req.Quality, 31)),
		"-pix_fmt", "rgb24",
	}

	fps := formatFloat(req.FPS)
	switch {
	case req.TrimStart != nil && req.TrimEnd != nil:
		args = append(args, "-vf", fmt.Sprintf("trim=start_frame=%d:end_frame=%d,fps=%s", *req.TrimStart, *req.TrimEnd, fps))
	case req.TrimStart != nil:
		args = append(args, "-vf", fmt.Sprintf("trim=start_frame=%d,fps=%s", *req.TrimStart, fps))
	case req.TrimEnd != nil:
		args = append(args, "-vf", fmt.Sprintf("trim=end_frame=%d,fps=%s", *req.TrimEnd, fps))
	default:
		args = append(args, "-vf", "fps="+fps)
	}

	return append(args, "-vsync", "0", req.FramePattern)
}

func mergeArgs(req MergeRequest) []string {
	encoder := req.Encoder
	if encoder == "" {
		encoder = DefaultEncoder
	}

	args := []string{
		"-hwaccel", "auto",
		"-r", formatFloat(req.FPS),
		"-i", req.FramePattern,
		"-c:v", encoder,
	}

	switch encoder {
	case "libx264", "libx265":
		args = append(args, "-crf", strconv.Itoa(compression(req.Quality, 51)))
	case "libvpx-vp9":
		args = append(args, "-crf", strconv.Itoa(compression(req.Quality, 63)))
	case "h264_nvenc", "hevc_nvenc":
		args = append(args, "-cq", strconv.Itoa(compression(req.Quality, 51)))
	}

	return append(args,
		"-pix_fmt", "yuv420p",
		"-colorspace", "bt709",
		"-y", req.OutputPath,
	)
}

func restoreAudioArgs(req AudioRequest) []string {
	args := []string{
		"-hwaccel", "auto",
		"-i", req.VideoPath,
	}
	if req.TrimStart != nil {
		args = append(args, "-ss", formatFloat(float64(*req.TrimStart)/req.FPS))
	}
	if req.TrimEnd != nil {
		args = append(args, "-to", formatFloat(float64(*req.TrimEnd)/req.FPS))
	}
	return append(args,
		"-i", req.TargetPath,
		"-c", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		"-y", req.OutputPath,
	)
}

func compressImageArgs(src, dst string, quality int) []string {
	return []string{
		"-i", src,
		"-q:v", strconv.Itoa(compression(quality, 31)),
		"-y", dst,
	}
}

// compression maps a 0-100 quality onto an encoder scale where 0 is best and
// scale is worst.
func compression(quality, scale int) int {
	q := float64(min(max(quality, 0), 100))
	s := float64(scale)
	return int(math.RoundToEven(s - q*s/100))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegToolkit) runFFmpeg(ctx context.Context, args []string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   full,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
