package testutil

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/agency/internal/timer"
)

// Epoch is the default start time for ManualClock.
var Epoch = time.Date(2026, time.January, 5, 9, 30, 0, 0, time.UTC)

// ManualClock is a timer.Clock whose time only moves when Advance is called.
//
// Due callbacks run synchronously inside Advance, in deadline order, with
// Now() reporting each callback's own deadline. Callbacks run without the
// clock lock held, so they may schedule further timers; any that fall due
// within the same Advance window also fire.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*manualTimer
}

type manualTimer struct {
	c       *ManualClock
	id      int64
	at      time.Time
	f       func()
	stopped bool
}

// NewManualClock creates a clock reading start. A zero start selects Epoch.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) timer.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.nextID++
	t := &manualTimer{c: c, id: c.nextID, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing every callback that falls due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// AdvanceSeconds is Advance for fractional seconds.
func (c *ManualClock) AdvanceSeconds(sec float64) {
	c.Advance(time.Duration(sec * float64(time.Second)))
}

// Pending returns the number of callbacks not yet fired or stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) popDueLocked(target time.Time) *manualTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].id < c.timers[j].id
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	first := c.timers[0]
	if first.at.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	first.stopped = true
	return first
}

// SeqClock is a resettable logical clock for event-log sequence numbers.
type SeqClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSeqClock creates a clock whose first Next() returns 1.
func NewSeqClock() *SeqClock {
	return &SeqClock{}
}

func (c *SeqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *SeqClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock so the same scenario yields identical seq values.
func (c *SeqClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FixedRunIDs hands out run IDs from a fixed list, then "run-<n>" once exhausted.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedRunIDs creates a generator. With no ids it yields run-1, run-2, ...
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return "run-" + strconv.Itoa(g.n)
}
