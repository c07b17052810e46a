// Package sensor ingests limb acceleration samples and routes them to the
// actuation engine and the sample recorder.
package sensor

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/agency/internal/experiment"
)

// SampleSink receives every routed sample. It must not block.
type SampleSink interface {
	Record(s experiment.Sample)
}

// Router fans inbound samples out to a single-consumer channel and to sinks.
//
// The channel send is non-blocking; when the consumer falls behind the
// sample is dropped for actuation but still reaches the sinks.
type Router struct {
	out    chan experiment.Sample
	sinks  []SampleSink
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	routed  atomic.Int64
}

// NewRouter creates a router whose channel holds buffer samples.
func NewRouter(buffer int, logger *slog.Logger, sinks ...SampleSink) *Router {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		out:    make(chan experiment.Sample, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

// Samples is the channel the actuation engine consumes.
func (r *Router) Samples() <-chan experiment.Sample {
	return r.out
}

// Deliver routes one sample. Safe for concurrent use; a no-op after Close.
func (r *Router) Deliver(s experiment.Sample) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	r.routed.Add(1)
	select {
	case r.out <- s:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			r.logger.Warn("actuation consumer lagging, samples dropped", "dropped", n)
		}
	}
	for _, sink := range r.sinks {
		sink.Record(s)
	}
}

// Routed returns how many samples were delivered.
func (r *Router) Routed() int64 {
	return r.routed.Load()
}

// Dropped returns how many samples the actuation channel could not take.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Close closes the sample channel. Later deliveries are discarded.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.out)
}
