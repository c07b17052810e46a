package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// DefaultFlushInterval is how often buffered samples are written.
const DefaultFlushInterval = 100 * time.Millisecond

// maxPending bounds the buffer while writes keep failing: a minute of four
// limbs at 250 Hz. The oldest samples are dropped beyond it.
const maxPending = 60_000

// SampleRecorder buffers raw samples for the active run and writes them in
// batches. Record never touches the database, so it is safe on the sample
// delivery path.
type SampleRecorder struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	runID string
	buf   []experiment.Sample

	written atomic.Int64
	lost    atomic.Int64
}

// NewSampleRecorder creates a recorder. A non-positive interval selects
// DefaultFlushInterval.
func NewSampleRecorder(s *Store, interval time.Duration, logger *slog.Logger) *SampleRecorder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleRecorder{store: s, interval: interval, logger: logger}
}

// Record buffers s for the bound run. Samples outside a run are discarded.
func (r *SampleRecorder) Record(s experiment.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.buf = append(r.buf, s)
}

// RunStarted binds subsequent samples to run.
func (r *SampleRecorder) RunStarted(run experiment.RunRecord) {
	r.flushWarn()
	r.mu.Lock()
	r.bindLocked(run.RunID)
	r.mu.Unlock()
}

// RunStopped flushes what is buffered and stops recording.
func (r *SampleRecorder) RunStopped(runID string) {
	r.flushWarn()
	r.mu.Lock()
	if r.runID == runID {
		r.bindLocked("")
	}
	r.mu.Unlock()
}

// bindLocked switches the bound run. Samples the final flush could not
// write belong to the old run and are counted as lost.
func (r *SampleRecorder) bindLocked(runID string) {
	if n := len(r.buf); n > 0 {
		r.lost.Add(int64(n))
		r.logger.Warn("samples lost", "run_id", r.runID, "count", n)
		r.buf = nil
	}
	r.runID = runID
}

// Flush writes buffered samples now. A failed batch is put back in front
// of samples recorded since, so the next flush retries it.
func (r *SampleRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	runID, batch := r.runID, r.buf
	r.buf = nil
	r.mu.Unlock()

	if runID == "" || len(batch) == 0 {
		return nil
	}
	if err := r.store.WriteSamples(ctx, runID, batch); err != nil {
		r.requeue(runID, batch)
		return err
	}
	r.written.Add(int64(len(batch)))
	return nil
}

func (r *SampleRecorder) requeue(runID string, batch []experiment.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID != runID {
		r.lost.Add(int64(len(batch)))
		return
	}
	r.buf = append(batch, r.buf...)
	if over := len(r.buf) - maxPending; over > 0 {
		r.buf = r.buf[over:]
		r.lost.Add(int64(over))
	}
}

// Written returns how many samples reached the store.
func (r *SampleRecorder) Written() int64 {
	return r.written.Load()
}

// Lost returns how many samples were given up after failed writes.
func (r *SampleRecorder) Lost() int64 {
	return r.lost.Load()
}

// Pending returns how many samples wait for the next flush.
func (r *SampleRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Run flushes on the recorder's interval until ctx is done, then flushes once more.
func (r *SampleRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.Background()); err != nil {
				r.logger.Error("final sample flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			r.flushWarn()
		}
	}
}

func (r *SampleRecorder) flushWarn() {
	if err := r.Flush(context.Background()); err != nil {
		r.logger.Warn("sample flush failed", "error", err)
	}
}
