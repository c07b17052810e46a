// Package sequencer drives an experiment timeline through its steps.
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// Start, Pause, Resume, Stop and step-timer expiry are all commands on one
// FIFO queue, processed one at a time by Run. Timer callbacks never touch
// run state; they only enqueue. This keeps every transition serialized with
// every other, whichever goroutine asked for it.
//
// States:
//
//	Stopped --Start--> Running --Pause--> Paused --Resume--> Running
//	   ^                  |                  |
//	   +------Stop--------+-------Stop-------+
//	   +---- last step timer expires ---------
//
// Elapsed Time:
// The step timer is paused, not cancelled, and on resume its deadline moves
// forward by exactly the paused span. Elapsed time is derived from the
// timer's own remaining-time query, so a step always spans its duration
// plus any pauses, and reported elapsed time never goes backwards.
//
// Event Log:
// Every lifecycle transition appends a (subject, phase, timestamp) entry
// stamped with a monotonic seq from Clock. Timestamps are informational;
// seq is the order.
//
// Collaborator failures (bus, sound, streams, log, markers) are logged and
// never block step advancement.
package sequencer
