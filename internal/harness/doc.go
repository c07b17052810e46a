// Package harness runs scripted experiment scenarios against the real
// sequencer, actuation engine and event store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: two_step
//	description: "Fixation then Connect, driven to completion"
//	experiment:
//	  task: { name: Mobile, participant: 1, age_months: 4, trial: 1 }
//	  actuation: { model: threshold }
//	  steps:
//	    - { index: 1, description: Fixation, duration_seconds: 2, assigned_limb: none }
//	    - { index: 2, description: Connect, duration_seconds: 3, assigned_limb: left_hand }
//	script:
//	  - { at: 0, action: start }
//	  - { at: 2.5, action: sample, limb: left_hand, magnitude: 0.8 }
//	  - { action: advance, seconds: 5 }
//	assertions:
//	  - type: event_order
//	    events: ["Task Start", "Fixation Start", "Fixation End", "Connect Start"]
//	  - type: final_state
//	    state: Stopped
//
// The experiment block is validated exactly like a configuration file.
//
// # Actions
//
//   - start, pause, resume, stop: sequencer control; expect_error names the
//     error code the call must fail with (e.g. INVALID_TRANSITION)
//   - sample: deliver one reading (magnitude, or x/y/z) for a limb
//   - limb, model: override the active limb or actuation model
//   - advance: move time forward by seconds
//
// Every action may carry at, the scenario time in seconds it happens at;
// time only moves forward.
//
// # Assertion Types
//
//   - event_order: listed "Subject Phase" entries appear in this order
//   - event_count: an entry appears exactly count times
//   - final_state: run state (and optionally step index) at the end
//   - movie_values: the exact sequence of movie commands ("event:value")
//   - sound_values: the exact sequence of sound commands ("speed,volume")
//   - sample_count: samples recorded for a limb
//
// # Deterministic Execution
//
// Time is a testutil.ManualClock starting at testutil.Epoch, run IDs come
// from testutil.FixedRunIDs, and each scenario gets a fresh in-memory
// SQLite store. The resulting trace is identical across runs, so it can be
// compared against golden files (testdata/golden/<name>.golden).
package harness
