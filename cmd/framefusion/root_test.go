package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/framefusion/internal/config"
	"github.com/maauso/framefusion/internal/job"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)
	cfg.TempDir = t.TempDir()
	return cfg
}

func TestJobConfig_FromFlags(t *testing.T) {
	cfg := testConfig(t, nil)
	cmd := &cobra.Command{}
	opts := &runOptions{}
	opts.bindFlags(cmd, cfg)

	require.NoError(t, cmd.ParseFlags([]string{
		"-s", "/in/face.jpg",
		"-t", "/in/clip.mp4",
		"-o", "/out",
		"--frame-processors", "grayscale,sharpen",
		"--execution-thread-count", "6",
		"--execution-queue-count", "2",
		"--trim-frame-start", "0",
		"--temp-frame-format", "png",
		"--output-video-encoder", "libx265",
		"--keep-fps",
		"--skip-audio",
	}))

	jc := opts.jobConfig(cmd, cfg)

	assert.Equal(t, "/in/face.jpg", jc.SourcePath)
	assert.Equal(t, "/in/clip.mp4", jc.TargetPath)
	assert.Equal(t, "/out", jc.OutputPath)
	assert.Equal(t, []string{"grayscale", "sharpen"}, jc.Processors)
	assert.Equal(t, 6, jc.ThreadCount)
	assert.Equal(t, 2, jc.QueueCount)
	assert.Equal(t, "png", jc.TempFrameFormat)
	assert.Equal(t, "libx265", jc.OutputVideoEncoder)
	assert.True(t, jc.KeepFPS)
	assert.True(t, jc.SkipAudio)
	assert.False(t, jc.KeepTemp)
	require.NotNil(t, jc.TrimStart)
	assert.Zero(t, *jc.TrimStart)
	assert.Nil(t, jc.TrimEnd)
}

func TestJobConfig_DefaultsFromEnv(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"FRAME_PROCESSORS":       "sharpen",
		"EXECUTION_THREAD_COUNT": "3",
		"OUTPUT_IMAGE_QUALITY":   "55",
		"KEEP_TEMP":              "true",
	})
	cmd := &cobra.Command{}
	opts := &runOptions{}
	opts.bindFlags(cmd, cfg)
	require.NoError(t, cmd.ParseFlags([]string{"-t", "/in/photo.png", "-o", "/out/photo.png"}))

	jc := opts.jobConfig(cmd, cfg)

	assert.Equal(t, []string{"sharpen"}, jc.Processors)
	assert.Equal(t, 3, jc.ThreadCount)
	assert.Equal(t, 55, jc.OutputImageQuality)
	assert.True(t, jc.KeepTemp)
	assert.Nil(t, jc.TrimStart)
	assert.NoError(t, jc.Validate())
}

func TestRootCommand_RequiresTargetAndOutput(t *testing.T) {
	cmd := newRootCommand(testConfig(t, nil))
	cmd.SetArgs([]string{"-t", "/in/photo.png"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func TestProcessorsCommand(t *testing.T) {
	cmd := newRootCommand(testConfig(t, map[string]string{"FRAME_PROCESSORS": "mirror,sharpen"}))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"processors"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "  grayscale\n* mirror\n* sharpen\n", out.String())
}

func TestRootCommand_ProcessesImage(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "photo.png")
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	f, err := os.Create(target)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	output := filepath.Join(dir, "out.png")
	cmd := newRootCommand(testConfig(t, map[string]string{"LOG_LEVEL": "error"}))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"-t", target, "-o", output, "--frame-processors", "grayscale", "--json"})

	require.NoError(t, cmd.ExecuteContext(context.Background()), errOut.String())

	var finished job.Job
	require.NoError(t, json.Unmarshal(out.Bytes(), &finished))
	assert.Equal(t, job.StatusDone, finished.Status)
	assert.Equal(t, job.KindImage, finished.Kind)
	assert.FileExists(t, output)
}

func TestPreviewCommand_SkipsDecliningProcessors(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "photo.png")
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})
	f, err := os.Create(target)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	output := filepath.Join(dir, "preview.png")
	cmd := newRootCommand(testConfig(t, map[string]string{"SHARPEN_SIGMA": "-1", "LOG_LEVEL": "error"}))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"preview", "-t", target, "-o", output, "--frame-processors", "sharpen,mirror"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errOut.String(), "skipped sharpen")
	assert.Contains(t, out.String(), output)

	rf, err := os.Open(output)
	require.NoError(t, err)
	defer rf.Close()
	got, err := png.Decode(rf)
	require.NoError(t, err)
	_, _, b, _ := got.At(0, 0).RGBA()
	assert.NotZero(t, b, "mirror applied")
}

func TestPreviewCommand_RejectsVideo(t *testing.T) {
	cmd := newRootCommand(testConfig(t, nil))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"preview", "-t", "/in/clip.mp4", "-o", "/out/preview.png"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image target")
}
