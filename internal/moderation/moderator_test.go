package moderation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Probability(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

// fakeSampler writes n empty sample files into dir.
type fakeSampler struct {
	n        int
	err      error
	calls    int
	interval int
	dirs     []string
}

func (f *fakeSampler) SampleFrames(_ context.Context, _ string, dir string, interval int) ([]string, error) {
	f.calls++
	f.interval = interval
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	var paths []string
	for i := range f.n {
		p := filepath.Join(dir, "sample_"+string(rune('a'+i))+".jpg")
		if err := os.WriteFile(p, nil, 0600); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func TestModerator_ImageDisallowed(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		want        bool
	}{
		{"below threshold", 0.2, false},
		{"at threshold is allowed", 0.75, false},
		{"above threshold", 0.9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(mockClassifier)
			c.On("Probability", mock.Anything, "target.jpg").Return(tt.probability, nil).Once()

			m := NewModerator(c, nil)
			got, err := m.ImageDisallowed(context.Background(), "target.jpg")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Second call is served from the cache.
			got, err = m.ImageDisallowed(context.Background(), "target.jpg")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			c.AssertExpectations(t)
		})
	}
}

func TestModerator_ImageClassifierFailure(t *testing.T) {
	c := new(mockClassifier)
	c.On("Probability", mock.Anything, "target.jpg").Return(0.0, errors.New("connection refused")).Twice()

	m := NewModerator(c, nil)
	_, err := m.ImageDisallowed(context.Background(), "target.jpg")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Failures are not cached.
	_, err = m.ImageDisallowed(context.Background(), "target.jpg")
	assert.ErrorIs(t, err, ErrUnavailable)
	c.AssertExpectations(t)
}

func TestModerator_VideoDisallowed(t *testing.T) {
	c := new(mockClassifier)
	c.On("Probability", mock.Anything, mock.MatchedBy(func(p string) bool {
		return filepath.Base(p) == "sample_a.jpg"
	})).Return(0.1, nil)
	c.On("Probability", mock.Anything, mock.MatchedBy(func(p string) bool {
		return filepath.Base(p) == "sample_b.jpg"
	})).Return(0.8, nil)

	sampler := &fakeSampler{n: 3}
	tempDir := t.TempDir()
	m := NewModerator(c, sampler, WithTempDir(tempDir), WithFrameInterval(10))

	got, err := m.VideoDisallowed(context.Background(), "target.mp4")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 10, sampler.interval)

	// Classification stops at the first disallowed sample.
	c.AssertNumberOfCalls(t, "Probability", 2)

	// Samples are removed after the check.
	require.Len(t, sampler.dirs, 1)
	_, statErr := os.Stat(sampler.dirs[0])
	assert.True(t, os.IsNotExist(statErr))

	got, err = m.VideoDisallowed(context.Background(), "target.mp4")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, sampler.calls, "verdict is cached")
}

func TestModerator_VideoAllowed(t *testing.T) {
	c := new(mockClassifier)
	c.On("Probability", mock.Anything, mock.Anything).Return(0.3, nil)

	m := NewModerator(c, &fakeSampler{n: 4}, WithTempDir(t.TempDir()))
	got, err := m.VideoDisallowed(context.Background(), "target.mp4")
	require.NoError(t, err)
	assert.False(t, got)
	c.AssertNumberOfCalls(t, "Probability", 4)
}

func TestModerator_VideoSamplerFailure(t *testing.T) {
	m := NewModerator(new(mockClassifier), &fakeSampler{err: errors.New("ffmpeg missing")}, WithTempDir(t.TempDir()))

	_, err := m.VideoDisallowed(context.Background(), "target.mp4")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestModerator_VideoWithoutSampler(t *testing.T) {
	m := NewModerator(new(mockClassifier), nil)

	_, err := m.VideoDisallowed(context.Background(), "target.mp4")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestModerator_WithThreshold(t *testing.T) {
	c := new(mockClassifier)
	c.On("Probability", mock.Anything, "target.jpg").Return(0.5, nil)

	m := NewModerator(c, nil, WithThreshold(0.4))
	got, err := m.ImageDisallowed(context.Background(), "target.jpg")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPermissive(t *testing.T) {
	var p Permissive

	img, err := p.ImageDisallowed(context.Background(), "anything.jpg")
	require.NoError(t, err)
	assert.False(t, img)

	vid, err := p.VideoDisallowed(context.Background(), "anything.mp4")
	require.NoError(t, err)
	assert.False(t, vid)
}
