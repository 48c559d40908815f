// Package progress tracks per-unit completion of a frame-processing pass and
// fans snapshots out to sinks such as a terminal bar or the job log.
package progress

import (
	"runtime/metrics"
	"sync"
)

const memoryMetric = "/memory/classes/total:bytes"

// Snapshot is a point-in-time view of a processing pass.
type Snapshot struct {
	JobID       string `json:"job_id"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	MemoryBytes uint64 `json:"memory_bytes"`
	Threads     int    `json:"execution_threads"`
	QueueCount  int    `json:"execution_queue_count"`
}

// Percent returns completion in the range [0, 100].
func (s Snapshot) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	return min(s.Completed*100/s.Total, 100)
}

// Sink receives snapshots. Update calls on a single Reporter are serialized.
type Sink interface {
	Update(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

// Update calls f(s).
func (f SinkFunc) Update(s Snapshot) { f(s) }

// Multi forwards each snapshot to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return SinkFunc(func(snap Snapshot) {
		for _, s := range filtered {
			s.Update(snap)
		}
	})
}

// Reporter counts completed units. Advance is safe for concurrent use and the
// completed count never decreases or exceeds the total.
type Reporter struct {
	mu     sync.Mutex
	snap   Snapshot
	sink   Sink
	sample []metrics.Sample
}

// NewReporter creates a reporter for total units and immediately publishes
// the zero snapshot.
func NewReporter(jobID string, total, threads, queueCount int, sinks ...Sink) *Reporter {
	r := &Reporter{
		snap: Snapshot{
			JobID:      jobID,
			Total:      max(total, 0),
			Threads:    threads,
			QueueCount: queueCount,
		},
		sink:   Multi(sinks...),
		sample: []metrics.Sample{{Name: memoryMetric}},
	}
	r.mu.Lock()
	r.publish()
	r.mu.Unlock()
	return r
}

// Advance records one completed unit.
func (r *Reporter) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Completed >= r.snap.Total {
		return
	}
	r.snap.Completed++
	r.publish()
}

// Snapshot returns the latest snapshot.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// publish refreshes the memory reading and notifies the sink. The caller
// must hold r.mu.
func (r *Reporter) publish() {
	metrics.Read(r.sample)
	if r.sample[0].Value.Kind() == metrics.KindUint64 {
		r.snap.MemoryBytes = r.sample[0].Value.Uint64()
	}
	r.sink.Update(r.snap)
}
