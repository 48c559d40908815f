package storage

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrWorkspaceInUse is returned when another process holds the lock on a
// job's workspace.
var ErrWorkspaceInUse = errors.New("storage: workspace is in use")

const (
	lockFileName     = ".lock"
	tempVideoName    = "temp.mp4"
	framePatternBase = "%04d"
)

// Workspace is the per-job directory that holds extracted frames and the
// intermediate merged video. It is owned by exactly one job.
type Workspace struct {
	dir    string
	format string
	lock   *flock.Flock

	clearOnce sync.Once
	clearErr  error
	cleared   bool
	mu        sync.Mutex
}

// DefaultRoot returns the workspace root used when none is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "framefusion")
}

// NewWorkspace creates <root>/<jobID> and takes an exclusive advisory lock on
// it. frameFormat is the extension of extracted frames (jpg or png).
func NewWorkspace(root, jobID, frameFormat string) (*Workspace, error) {
	if jobID == "" {
		return nil, errors.New("storage: workspace requires a job id")
	}
	if root == "" {
		root = DefaultRoot()
	}
	format := strings.TrimPrefix(strings.ToLower(frameFormat), ".")
	if format == "" {
		format = "jpg"
	}

	dir := filepath.Join(root, jobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceInUse, dir)
	}

	return &Workspace{dir: dir, format: format, lock: lock}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// FrameFormat returns the frame file extension without the leading dot.
func (w *Workspace) FrameFormat() string {
	return w.format
}

// FramePattern returns the printf-style path ffmpeg writes frames to.
func (w *Workspace) FramePattern() string {
	return filepath.Join(w.dir, framePatternBase+"."+w.format)
}

// FramePaths lists extracted frames in source order.
func (w *Workspace) FramePaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*."+w.format))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	slices.SortFunc(paths, compareFrames)
	return paths, nil
}

// compareFrames orders frame files by their number. Names past the %04d
// padding are longer, so a plain string sort would misplace them.
func compareFrames(a, b string) int {
	na, errA := frameNumber(a)
	nb, errB := frameNumber(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return cmp.Compare(na, nb)
}

func frameNumber(path string) (int, error) {
	base := filepath.Base(path)
	return strconv.Atoi(strings.TrimSuffix(base, filepath.Ext(base)))
}

// TempVideoPath returns the path of the intermediate merged video.
func (w *Workspace) TempVideoPath() string {
	return filepath.Join(w.dir, tempVideoName)
}

// MoveTempVideo moves the merged video to outputPath. It falls back to a copy
// when the rename crosses filesystems.
func (w *Workspace) MoveTempVideo(outputPath string) error {
	src := w.TempVideoPath()
	if err := os.MkdirAll(filepath.Dir(outputPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.Rename(src, outputPath); err == nil {
		return nil
	}
	if err := copyFile(src, outputPath); err != nil {
		return fmt.Errorf("move temp video: %w", err)
	}
	return os.Remove(src)
}

// Release drops the lock but leaves every file in place.
func (w *Workspace) Release() error {
	if err := w.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return nil
}

// Clear unlocks and removes the workspace directory. Only the first call has
// any effect; later calls return the first result.
func (w *Workspace) Clear() error {
	w.clearOnce.Do(func() {
		_ = w.lock.Unlock()
		if err := os.RemoveAll(w.dir); err != nil {
			w.clearErr = fmt.Errorf("remove workspace: %w", err)
		}
		w.mu.Lock()
		w.cleared = true
		w.mu.Unlock()
	})
	return w.clearErr
}

// Cleared reports whether Clear has run.
func (w *Workspace) Cleared() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleared
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst string) error {
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
