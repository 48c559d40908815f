// Package moderation decides whether a target may be processed by scoring it,
// or a sample of its frames, against a content classifier.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Defaults for content checks.
const (
	DefaultThreshold     = 0.75
	DefaultFrameInterval = 25
)

// ErrUnavailable is returned when the classifier could not produce a verdict.
var ErrUnavailable = errors.New("moderation: classifier unavailable")

// FrameSampler extracts every interval-th frame of a video into dir.
type FrameSampler interface {
	SampleFrames(ctx context.Context, videoPath, dir string, interval int) ([]string, error)
}

// Moderator checks images and videos against a Classifier. Verdicts are
// cached per path for the lifetime of the Moderator.
type Moderator struct {
	classifier Classifier
	sampler    FrameSampler
	threshold  float64
	interval   int
	tempDir    string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]bool
}

// Option configures a Moderator.
type Option func(*Moderator)

// WithThreshold sets the probability above which content is disallowed.
func WithThreshold(t float64) Option {
	return func(m *Moderator) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithFrameInterval sets how many frames apart video samples are taken.
func WithFrameInterval(n int) Option {
	return func(m *Moderator) {
		if n > 0 {
			m.interval = n
		}
	}
}

// WithTempDir sets where video samples are written.
func WithTempDir(dir string) Option {
	return func(m *Moderator) {
		m.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Moderator) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewModerator creates a Moderator. sampler may be nil when only images are
// checked.
func NewModerator(classifier Classifier, sampler FrameSampler, opts ...Option) *Moderator {
	m := &Moderator{
		classifier: classifier,
		sampler:    sampler,
		threshold:  DefaultThreshold,
		interval:   DefaultFrameInterval,
		logger:     slog.Default(),
		cache:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ImageDisallowed reports whether the image at path exceeds the threshold.
func (m *Moderator) ImageDisallowed(ctx context.Context, path string) (bool, error) {
	key := "image:" + path
	if v, ok := m.cached(key); ok {
		return v, nil
	}

	p, err := m.classifier.Probability(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	disallowed := p > m.threshold
	m.store(key, disallowed)
	return disallowed, nil
}

// VideoDisallowed reports whether any sampled frame of the video exceeds the
// threshold.
func (m *Moderator) VideoDisallowed(ctx context.Context, path string) (bool, error) {
	key := "video:" + path
	if v, ok := m.cached(key); ok {
		return v, nil
	}
	if m.sampler == nil {
		return false, fmt.Errorf("%w: no frame sampler", ErrUnavailable)
	}

	dir, err := os.MkdirTemp(m.tempDir, "moderation-*")
	if err != nil {
		return false, fmt.Errorf("create sample directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	samples, err := m.sampler.SampleFrames(ctx, path, dir, m.interval)
	if err != nil {
		return false, fmt.Errorf("%w: sample frames: %w", ErrUnavailable, err)
	}

	disallowed := false
	for _, sample := range samples {
		p, err := m.classifier.Probability(ctx, sample)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if p > m.threshold {
			disallowed = true
			break
		}
	}

	m.logger.Debug("video moderated",
		slog.String("path", path),
		slog.Int("samples", len(samples)),
		slog.Bool("disallowed", disallowed),
	)
	m.store(key, disallowed)
	return disallowed, nil
}

func (m *Moderator) cached(key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache[key]
	return v, ok
}

func (m *Moderator) store(key string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = v
}

// Permissive allows all content. It is used when no classifier endpoint is
// configured.
type Permissive struct{}

// ImageDisallowed always returns false.
func (Permissive) ImageDisallowed(context.Context, string) (bool, error) { return false, nil }

// VideoDisallowed always returns false.
func (Permissive) VideoDisallowed(context.Context, string) (bool, error) { return false, nil }
