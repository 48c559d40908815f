package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWorkspace(t *testing.T) {
	t.Run("creates job directory", func(t *testing.T) {
		root := t.TempDir()

		ws, err := NewWorkspace(root, "job-1", "PNG")
		if err != nil {
			t.Fatalf("NewWorkspace() error = %v", err)
		}
		defer func() { _ = ws.Clear() }()

		if ws.Dir() != filepath.Join(root, "job-1") {
			t.Errorf("Dir() = %v, want %v", ws.Dir(), filepath.Join(root, "job-1"))
		}
		if ws.FrameFormat() != "png" {
			t.Errorf("FrameFormat() = %v, want png", ws.FrameFormat())
		}
		if info, err := os.Stat(ws.Dir()); err != nil || !info.IsDir() {
			t.Fatalf("workspace directory not created: %v", err)
		}
	})

	t.Run("defaults frame format to jpg", func(t *testing.T) {
		ws, err := NewWorkspace(t.TempDir(), "job-2", "")
		if err != nil {
			t.Fatalf("NewWorkspace() error = %v", err)
		}
		defer func() { _ = ws.Clear() }()

		want := filepath.Join(ws.Dir(), "%04d.jpg")
		if ws.FramePattern() != want {
			t.Errorf("FramePattern() = %v, want %v", ws.FramePattern(), want)
		}
	})

	t.Run("rejects empty job id", func(t *testing.T) {
		if _, err := NewWorkspace(t.TempDir(), "", "jpg"); err == nil {
			t.Error("expected error for empty job id")
		}
	})

	t.Run("rejects a locked workspace", func(t *testing.T) {
		root := t.TempDir()
		first, err := NewWorkspace(root, "job-3", "jpg")
		if err != nil {
			t.Fatalf("NewWorkspace() error = %v", err)
		}
		defer func() { _ = first.Clear() }()

		_, err = NewWorkspace(root, "job-3", "jpg")
		if !errors.Is(err, ErrWorkspaceInUse) {
			t.Errorf("expected ErrWorkspaceInUse, got %v", err)
		}

		if err := first.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		second, err := NewWorkspace(root, "job-3", "jpg")
		if err != nil {
			t.Fatalf("NewWorkspace() after release error = %v", err)
		}
		_ = second.Release()
	})
}

func TestWorkspace_FramePaths(t *testing.T) {
	ws := setupWorkspace(t, "jpg")

	for _, name := range []string{"0003.jpg", "0001.jpg", "0002.jpg", "notes.txt"} {
		writeFile(t, filepath.Join(ws.Dir(), name), "frame")
	}

	paths, err := ws.FramePaths()
	if err != nil {
		t.Fatalf("FramePaths() error = %v", err)
	}

	want := []string{"0001.jpg", "0002.jpg", "0003.jpg"}
	if len(paths) != len(want) {
		t.Fatalf("FramePaths() returned %d paths, want %d", len(paths), len(want))
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("paths[%d] = %v, want %v", i, filepath.Base(p), want[i])
		}
	}
}

func TestWorkspace_FramePaths_PastPadding(t *testing.T) {
	ws := setupWorkspace(t, "jpg")

	for _, name := range []string{"10000.jpg", "1001.jpg", "9999.jpg", "0002.jpg"} {
		writeFile(t, filepath.Join(ws.Dir(), name), "frame")
	}

	paths, err := ws.FramePaths()
	if err != nil {
		t.Fatalf("FramePaths() error = %v", err)
	}

	want := []string{"0002.jpg", "1001.jpg", "9999.jpg", "10000.jpg"}
	if len(paths) != len(want) {
		t.Fatalf("FramePaths() returned %d paths, want %d", len(paths), len(want))
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("paths[%d] = %v, want %v", i, filepath.Base(p), want[i])
		}
	}
}

func TestWorkspace_FramePaths_Empty(t *testing.T) {
	ws := setupWorkspace(t, "png")

	paths, err := ws.FramePaths()
	if err != nil {
		t.Fatalf("FramePaths() error = %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no frames, got %v", paths)
	}
}

func TestWorkspace_MoveTempVideo(t *testing.T) {
	ws := setupWorkspace(t, "jpg")
	content := []byte("merged video bytes")
	writeFile(t, ws.TempVideoPath(), string(content))

	output := filepath.Join(t.TempDir(), "nested", "out.mp4")
	if err := ws.MoveTempVideo(output); err != nil {
		t.Fatalf("MoveTempVideo() error = %v", err)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("output = %q, want %q", got, content)
	}
	if _, err := os.Stat(ws.TempVideoPath()); !os.IsNotExist(err) {
		t.Error("temp video should be gone after move")
	}
}

func TestWorkspace_MoveTempVideo_Missing(t *testing.T) {
	ws := setupWorkspace(t, "jpg")

	if err := ws.MoveTempVideo(filepath.Join(t.TempDir(), "out.mp4")); err == nil {
		t.Error("expected error when temp video is missing")
	}
}

func TestWorkspace_Clear(t *testing.T) {
	ws := setupWorkspace(t, "jpg")
	writeFile(t, filepath.Join(ws.Dir(), "0001.jpg"), "frame")

	if ws.Cleared() {
		t.Fatal("new workspace reports cleared")
	}
	for i := 0; i < 3; i++ {
		if err := ws.Clear(); err != nil {
			t.Fatalf("Clear() call %d error = %v", i, err)
		}
	}
	if !ws.Cleared() {
		t.Error("Cleared() = false after Clear")
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Errorf("workspace directory still exists: %v", err)
	}
}

func TestWorkspace_ReleaseKeepsFiles(t *testing.T) {
	ws := setupWorkspace(t, "jpg")
	frame := filepath.Join(ws.Dir(), "0001.jpg")
	writeFile(t, frame, "frame")

	if err := ws.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(frame); err != nil {
		t.Errorf("frame should be retained: %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")
	writeFile(t, src, "pixels")

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read copy: %v", err)
	}
	if string(got) != "pixels" {
		t.Errorf("got %q, want %q", got, "pixels")
	}

	if err := CopyFile(filepath.Join(dir, "missing"), dst); err == nil {
		t.Error("expected error for missing source")
	}
}

func setupWorkspace(t *testing.T, format string) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), "job-test", format)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	t.Cleanup(func() { _ = ws.Clear() })
	return ws
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
