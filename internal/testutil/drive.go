package testutil

import (
	"time"

	"github.com/roach88/agency/internal/timer"
)

// Drive advances clock by d one timer deadline at a time, calling settle
// after each step. Use it when timer callbacks hand work to another
// goroutine: settle waits for that work (typically a sequencer Sync) so
// the timers it arms are visible before the clock moves on.
func Drive(clock *ManualClock, timers *timer.Scheduler, d time.Duration, settle func()) {
	target := clock.Now().Add(d)
	for {
		next, ok := nextDeadline(timers, target)
		if !ok {
			break
		}
		if wait := next.Sub(clock.Now()); wait > 0 {
			clock.Advance(wait)
		} else {
			clock.Advance(0)
		}
		settle()
	}
	if rest := target.Sub(clock.Now()); rest > 0 {
		clock.Advance(rest)
	}
	settle()
}

func nextDeadline(timers *timer.Scheduler, target time.Time) (time.Time, bool) {
	for _, info := range timers.Active() {
		if info.Paused {
			continue
		}
		if info.ExpiresAt.After(target) {
			return time.Time{}, false
		}
		return info.ExpiresAt, true
	}
	return time.Time{}, false
}
