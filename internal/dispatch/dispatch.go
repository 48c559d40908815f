// Package dispatch fans frame work out to a bounded pool of workers.
//
// An ordered list of frame identifiers is sliced into contiguous chunks and
// each chunk is handed to a batch function on its own task. At most Workers
// tasks run at once. Chunk execution order is unspecified; the only guarantee
// is that every identifier lands in exactly one chunk.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is returned when the context was cancelled before every
// chunk could be submitted.
var ErrInterrupted = errors.New("dispatch: interrupted before all chunks were submitted")

// BatchFunc processes one chunk of frame identifiers. It must call done
// exactly once for every identifier it completes.
type BatchFunc func(chunk []string, done func()) error

// Options configures a dispatch run.
type Options struct {
	// Workers is the size of the worker pool. Values below 1 are treated as 1.
	Workers int
	// Multiplier is the number of chunks queued per worker. Values below 1
	// are treated as 1.
	Multiplier int
	// OnUnitDone is called once per completed identifier. Calls are
	// serialized. May be nil.
	OnUnitDone func()
}

// ChunkError reports the failure of a single chunk.
type ChunkError struct {
	// Index is the position of the chunk in the partition.
	Index int
	// Size is the number of identifiers in the chunk.
	Size int
	Err  error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("dispatch: chunk %d (%d frames): %v", e.Index, e.Size, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ChunkSize returns the number of identifiers assigned to each chunk:
// ceil(total / (workers * multiplier)), never less than 1.
func ChunkSize(total, workers, multiplier int) int {
	slots := max(workers, 1) * max(multiplier, 1)
	size := (total + slots - 1) / slots
	return max(size, 1)
}

// Partition slices ids into contiguous chunks of ChunkSize identifiers. The
// last chunk may be shorter. The returned chunks share ids' backing array.
func Partition(ids []string, workers, multiplier int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	size := ChunkSize(len(ids), workers, multiplier)
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

// Run partitions ids and applies batch to every chunk on a pool of
// opts.Workers goroutines, then waits for all submitted chunks.
//
// Cancelling ctx stops submission of further chunks but never interrupts a
// chunk that is already running. When any chunk fails, Run still waits for
// the rest and returns the first failure as a *ChunkError. If no chunk failed
// but submission was cut short, Run returns ErrInterrupted.
func Run(ctx context.Context, ids []string, batch BatchFunc, opts Options) error {
	chunks := Partition(ids, opts.Workers, opts.Multiplier)
	if len(chunks) == 0 {
		return nil
	}

	var mu sync.Mutex
	done := func() {
		if opts.OnUnitDone == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		opts.OnUnitDone()
	}

	var g errgroup.Group
	g.SetLimit(max(opts.Workers, 1))

	interrupted := false
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		g.Go(func() error {
			return runChunk(i, chunk, batch, done)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if interrupted {
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	return nil
}

// runChunk invokes batch and converts failures and panics into a ChunkError.
func runChunk(index int, chunk []string, batch BatchFunc, done func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ChunkError{Index: index, Size: len(chunk), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := batch(chunk, done); err != nil {
		return &ChunkError{Index: index, Size: len(chunk), Err: err}
	}
	return nil
}
