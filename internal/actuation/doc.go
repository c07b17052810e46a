// Package actuation maps a live acceleration stream to stimulus commands.
//
// Exactly one limb drives actuation at a time. Samples for that limb are run
// through the selected control law, which publishes movie speed commands;
// a shared sound pairing rule follows the resulting velocity.
//
// Two control laws are provided:
//
//   - threshold: a sample above the acceleration threshold plays the movie
//     at max speed for the play time, then holds it at 0 for the dead time
//     before another trigger is accepted.
//   - physical: velocity integrates magnitude against friction with a fixed
//     dt per sample, snapping to 0 when decelerating below 5 and clamped to
//     max speed.
//
// Thread-safety: every exported method is safe for concurrent use. State is
// guarded by a single mutex; timer callbacks take the same mutex and are
// discarded if the limb or model changed after they were scheduled.
package actuation
