// Package timer provides pausable one-shot timers over an injectable clock.
package timer

import "time"

// Stopper cancels a pending callback. Stop reports whether the call prevented it from firing.
type Stopper interface {
	Stop() bool
}

// Clock is the time source used by the scheduler. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
