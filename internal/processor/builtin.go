package processor

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Built-in module names.
const (
	Grayscale = "grayscale"
	Mirror    = "mirror"
	Sharpen   = "sharpen"
)

// DefaultSharpenSigma is used when Options.SharpenSigma is zero.
const DefaultSharpenSigma = 1.0

// RegisterBuiltins registers the built-in pixel modules on r.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Constructor{
		Grayscale: newGrayscale,
		Mirror:    newMirror,
		Sharpen:   newSharpen,
	}
	for name, c := range builtins {
		if err := r.Register(name, c); err != nil {
			return err
		}
	}
	return nil
}

// filter is the resource held by a filterModule.
type filter func(image.Image) *image.NRGBA

// filterModule is a stateless per-pixel module whose resource is a prepared
// filter function.
type filterModule struct {
	name     string
	quality  int
	logger   *slog.Logger
	build    func() (filter, error)
	validate func() error
	resource Resource[filter]
}

// Compile-time check that filterModule implements Module.
var _ Module = (*filterModule)(nil)

func newFilterModule(name string, opts Options, build func() (filter, error)) *filterModule {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &filterModule{
		name:     name,
		quality:  opts.FrameQuality,
		logger:   logger.With(slog.String("processor", name)),
		build:    build,
		validate: func() error { return nil },
	}
}

func newGrayscale(opts Options) Module {
	return newFilterModule(Grayscale, opts, func() (filter, error) {
		return imaging.Grayscale, nil
	})
}

func newMirror(opts Options) Module {
	return newFilterModule(Mirror, opts, func() (filter, error) {
		return imaging.FlipH, nil
	})
}

func newSharpen(opts Options) Module {
	sigma := opts.SharpenSigma
	if sigma == 0 {
		sigma = DefaultSharpenSigma
	}
	m := newFilterModule(Sharpen, opts, func() (filter, error) {
		return func(img image.Image) *image.NRGBA {
			return imaging.Sharpen(img, sigma)
		}, nil
	})
	m.validate = func() error {
		if sigma <= 0 {
			return fmt.Errorf("sharpen sigma must be positive, got %.2f", sigma)
		}
		return nil
	}
	return m
}

func (m *filterModule) Name() string { return m.name }

func (m *filterModule) Concurrency() Concurrency { return Parallel }

func (m *filterModule) LoadResource() error {
	_, err := m.resource.Get(m.build)
	return err
}

func (m *filterModule) ClearResource() {
	m.resource.Clear()
}

func (m *filterModule) PreCheck(_ context.Context) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	return m.LoadResource()
}

func (m *filterModule) PreProcess(purpose Purpose) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %s for %s: %w", ErrDeclined, m.name, purpose, err)
	}
	return nil
}

func (m *filterModule) ProcessFrame(_, _, frame image.Image) (image.Image, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	f, err := m.resource.Get(m.build)
	if err != nil {
		return nil, fmt.Errorf("%s: load resource: %w", m.name, err)
	}
	return f(frame), nil
}

// ProcessFrames rewrites every frame in place. Filters do not depend on the
// source image, so sourcePath is not read.
func (m *filterModule) ProcessFrames(_ string, framePaths []string, done UnitDone) error {
	for _, path := range framePaths {
		if err := m.processFile(path, path); err != nil {
			return err
		}
		if done != nil {
			done()
		}
	}
	return nil
}

func (m *filterModule) ProcessImage(_, targetPath, outputPath string) error {
	return m.processFile(targetPath, outputPath)
}

func (m *filterModule) PostProcess() {
	m.ClearResource()
	m.logger.Debug("post process complete")
}

func (m *filterModule) processFile(src, dst string) error {
	frame, err := ReadFrame(src)
	if err != nil {
		return err
	}
	out, err := m.ProcessFrame(nil, nil, frame)
	if err != nil {
		return err
	}
	return WriteFrame(dst, out, m.quality)
}
