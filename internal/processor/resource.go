package processor

import "sync"

// Resource holds a lazily created value shared by all workers of a module.
// At most one caller runs the load function; the others wait for it.
type Resource[T any] struct {
	mu     sync.Mutex
	value  T
	loaded bool
}

// Get returns the held value, calling load to create it when nothing is held.
// A failed load leaves the resource empty so the next call retries.
func (r *Resource[T]) Get(load func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.value, nil
	}
	value, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	r.value = value
	r.loaded = true
	return r.value, nil
}

// Clear drops the held value. It is a no-op when nothing is held.
func (r *Resource[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	r.value = zero
	r.loaded = false
}

// Loaded reports whether a value is currently held.
func (r *Resource[T]) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}
