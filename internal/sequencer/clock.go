package sequencer

import "sync/atomic"

// Clock is the monotonic logical clock stamping event-log entries.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though only the command loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start. Used when appending runs
// to a log whose seq values must stay unique.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
