package processor

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Options carries process-wide settings handed to module constructors.
type Options struct {
	// FrameQuality is the JPEG quality (0-100) used when a module writes a
	// frame back to the workspace.
	FrameQuality int
	// SharpenSigma is the Gaussian sigma of the sharpen module.
	SharpenSigma float64
	// Logger is the logger modules should use. Defaults to slog.Default().
	Logger *slog.Logger
}

// Constructor builds a module instance. Constructors must be cheap; heavy
// state belongs in LoadResource.
type Constructor func(opts Options) Module

// Registry maps module names to constructors and caches one instance per
// name for the lifetime of the process.
type Registry struct {
	mu           sync.Mutex
	opts         Options
	constructors map[string]Constructor
	loaded       map[string]Module
	refs         map[string]int
	active       []string
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:         opts,
		constructors: make(map[string]Constructor),
		loaded:       make(map[string]Module),
		refs:         make(map[string]int),
	}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" || c == nil {
		return fmt.Errorf("%w: name=%q", ErrIncompleteModule, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	r.constructors[name] = c
	return nil
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve reports whether every name is registered. It neither builds nor
// evicts modules.
func (r *Registry) Resolve(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if _, ok := r.constructors[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}
	}
	return nil
}

// Acquire resolves names to module instances in the given order and marks
// them in use until Release.
//
// Instances are created on first reference and cached, so at most one
// instance per name is resident. When names differs from the previously
// acquired list, modules that are no longer selected and not in use have
// their resources cleared and are dropped from the cache. Modules still in
// use are dropped on their last Release.
func (r *Registry) Acquire(names []string) ([]Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		m, err := r.instance(name)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	for _, name := range names {
		r.refs[name]++
	}

	if !slices.Equal(r.active, names) {
		r.active = slices.Clone(names)
		for name := range r.loaded {
			r.evictIdle(name)
		}
	}

	return modules, nil
}

// Release returns modules obtained from Acquire.
func (r *Registry) Release(modules []Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range modules {
		name := m.Name()
		if r.loaded[name] != m || r.refs[name] == 0 {
			continue
		}
		r.refs[name]--
		r.evictIdle(name)
	}
}

// evictIdle clears and drops name when it is neither selected nor in use.
// The caller must hold r.mu.
func (r *Registry) evictIdle(name string) {
	m, ok := r.loaded[name]
	if !ok || r.refs[name] > 0 || slices.Contains(r.active, name) {
		return
	}
	m.ClearResource()
	delete(r.loaded, name)
	delete(r.refs, name)
	r.opts.Logger.Debug("released frame processor", slog.String("processor", name))
}

// instance returns the cached module for name, constructing it if needed.
// The caller must hold r.mu.
func (r *Registry) instance(name string) (Module, error) {
	if m, ok := r.loaded[name]; ok {
		return m, nil
	}
	c, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	m := c(r.opts)
	if m == nil || m.Name() != name {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteModule, name)
	}
	r.loaded[name] = m
	return m, nil
}

// Clear releases every cached module's resource and empties the cache.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.loaded {
		m.ClearResource()
	}
	r.loaded = make(map[string]Module)
	r.refs = make(map[string]int)
	r.active = nil
}
