package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by After once the scheduler has been closed.
var ErrClosed = errors.New("timer: scheduler closed")

// Info describes a pending timer.
type Info struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Remaining   time.Duration `json:"remaining"`
	Paused      bool          `json:"paused"`
}

// Scheduler tracks one-shot timers so they can be paused, resumed and
// cancelled as a group.
//
// Callbacks never run while the scheduler lock is held. A callback that
// races with Pause, Cancel or Close is dropped: each arm of a handle bumps a
// generation number and a fire only proceeds if its generation is current.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]*Handle
	nextID  int64
	closed  bool
}

// New creates a scheduler. A nil clock selects RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		clock:   clock,
		entries: make(map[string]*Handle),
	}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// After schedules fn to run once after d.
func (s *Scheduler) After(d time.Duration, description string, fn func()) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("timer: nil callback")
	}
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.nextID++
	h := &Handle{
		s:           s,
		id:          fmt.Sprintf("timer_%d", s.nextID),
		description: description,
		fn:          fn,
		scheduledAt: s.clock.Now(),
	}
	h.armLocked(d)
	s.entries[h.id] = h

	slog.Debug("timer scheduled", "id", h.id, "delay", d, "description", description)
	return h, nil
}

// Active lists pending timers ordered by expiry.
func (s *Scheduler) Active() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([]Info, 0, len(s.entries))
	for _, h := range s.entries {
		out = append(out, Info{
			ID:          h.id,
			Description: h.description,
			ScheduledAt: h.scheduledAt,
			ExpiresAt:   h.deadline,
			Remaining:   h.remainingLocked(now),
			Paused:      h.paused,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// Close cancels every pending timer. Later calls to After return ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, h := range s.entries {
		h.cancelLocked()
		delete(s.entries, id)
	}
	slog.Debug("timer scheduler closed")
}

func (s *Scheduler) fire(h *Handle, gen int64) {
	s.mu.Lock()
	if h.done || h.paused || h.gen != gen {
		s.mu.Unlock()
		return
	}
	h.done = true
	delete(s.entries, h.id)
	fn := h.fn
	s.mu.Unlock()

	slog.Debug("timer fired", "id", h.id, "description", h.description)
	fn()
}

// Handle is a single scheduled callback.
type Handle struct {
	s           *Scheduler
	id          string
	description string
	fn          func()

	scheduledAt time.Time
	deadline    time.Time
	stopper     Stopper
	gen         int64

	paused    bool
	pausedAt  time.Time
	remaining time.Duration

	done bool
}

// ID returns the handle's scheduler-unique identifier.
func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) armLocked(d time.Duration) {
	h.gen++
	gen := h.gen
	h.deadline = h.s.clock.Now().Add(d)
	h.stopper = h.s.clock.AfterFunc(d, func() { h.s.fire(h, gen) })
}

func (h *Handle) cancelLocked() {
	h.done = true
	h.gen++
	if h.stopper != nil {
		h.stopper.Stop()
	}
}

func (h *Handle) remainingLocked(now time.Time) time.Duration {
	if h.done {
		return 0
	}
	if h.paused {
		return h.remaining
	}
	if r := h.deadline.Sub(now); r > 0 {
		return r
	}
	return 0
}

// Remaining returns the time left before the callback fires.
// It is frozen while paused and zero once fired or cancelled.
func (h *Handle) Remaining() time.Duration {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.remainingLocked(h.s.clock.Now())
}

// Deadline returns the current expiry time. While paused it is the expiry
// the timer would have had.
func (h *Handle) Deadline() time.Time {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.deadline
}

// Paused reports whether the handle is paused.
func (h *Handle) Paused() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.paused
}

// Done reports whether the callback has fired or been cancelled.
func (h *Handle) Done() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.done
}

// Pause freezes the remaining time. It returns false if the handle is
// already paused, fired or cancelled.
func (h *Handle) Pause() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.done || h.paused {
		return false
	}
	now := h.s.clock.Now()
	h.remaining = h.remainingLocked(now)
	h.paused = true
	h.pausedAt = now
	h.gen++
	if h.stopper != nil {
		h.stopper.Stop()
	}
	slog.Debug("timer paused", "id", h.id, "remaining", h.remaining)
	return true
}

// Resume re-arms a paused handle with its frozen remaining time and shifts
// the deadline by the paused span, which it returns.
func (h *Handle) Resume() time.Duration {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.done || !h.paused {
		return 0
	}
	span := h.s.clock.Now().Sub(h.pausedAt)
	h.paused = false
	h.armLocked(h.remaining)
	slog.Debug("timer resumed", "id", h.id, "paused_for", span, "remaining", h.remaining)
	return span
}

// Cancel prevents the callback from firing. It returns false if the
// callback already fired or was cancelled.
func (h *Handle) Cancel() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.done {
		return false
	}
	h.cancelLocked()
	delete(h.s.entries, h.id)
	slog.Debug("timer cancelled", "id", h.id)
	return true
}
