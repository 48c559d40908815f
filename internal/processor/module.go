// Package processor defines the contract every frame transformation module
// satisfies, the registry that resolves module names to instances, and a
// handful of built-in pixel modules.
package processor

import (
	"context"
	"errors"
	"image"
)

// Static errors for module resolution and participation.
var (
	// ErrUnknownModule is returned when a requested module name is not registered.
	ErrUnknownModule = errors.New("processor: module not registered")
	// ErrIncompleteModule is returned when a registration or constructed
	// module does not satisfy the module contract.
	ErrIncompleteModule = errors.New("processor: module does not satisfy the processor contract")
	// ErrDuplicateModule is returned when a name is registered twice.
	ErrDuplicateModule = errors.New("processor: module already registered")
	// ErrDeclined is returned by PreProcess when a module cannot take part
	// for the requested purpose.
	ErrDeclined = errors.New("processor: module declined")
)

// Purpose tells a module what the upcoming work is for.
type Purpose string

const (
	// PurposePreview is a lightweight single-frame render. A module that
	// declines only drops out of the preview.
	PurposePreview Purpose = "preview"
	// PurposeOutput is the full job. A module that declines aborts the job.
	PurposeOutput Purpose = "output"
)

// Concurrency declares whether ProcessFrames may run on several workers at
// the same time.
type Concurrency int

const (
	// Parallel modules are safe to invoke from many workers concurrently.
	Parallel Concurrency = iota
	// Serial modules are dispatched with a single worker.
	Serial
)

func (c Concurrency) String() string {
	if c == Serial {
		return "serial"
	}
	return "parallel"
}

// UnitDone is called once for every frame a batch completes.
type UnitDone func()

// Module is a named frame transformation unit.
//
// A module keeps no per-call state. It may hold a heavy resource (a model,
// a lookup table) that is materialized on first use by LoadResource and
// released by ClearResource. Modules that report Parallel must make
// ProcessFrame and ProcessFrames safe for concurrent use.
type Module interface {
	// Name returns the registry name of the module.
	Name() string

	// Concurrency reports whether ProcessFrames may run concurrently.
	Concurrency() Concurrency

	// LoadResource materializes the module's heavy state if it is not
	// already held. Safe to call repeatedly.
	LoadResource() error

	// ClearResource releases the module's heavy state. Safe to call when
	// nothing is held and safe to call twice.
	ClearResource()

	// PreCheck verifies external assets the module needs before any job
	// work starts.
	PreCheck(ctx context.Context) error

	// PreProcess validates that the module can serve the given purpose.
	// It returns an error wrapping ErrDeclined when it cannot.
	PreProcess(purpose Purpose) error

	// ProcessFrame transforms one frame. source and reference may be nil.
	ProcessFrame(source, reference, frame image.Image) (image.Image, error)

	// ProcessFrames transforms every frame file in framePaths in place and
	// calls done once per completed frame. It is invoked once per
	// dispatch chunk.
	ProcessFrames(sourcePath string, framePaths []string, done UnitDone) error

	// ProcessImage transforms the image at targetPath into outputPath.
	ProcessImage(sourcePath, targetPath, outputPath string) error

	// PostProcess releases per-job state. The resource may be re-acquired
	// lazily afterwards.
	PostProcess()
}
