// Package experiment defines the shared vocabulary of the agency core:
// limbs, timeline steps, run state, acceleration samples, stimulus commands,
// event-log entries and the structured error type.
//
// Enumerations are closed integer types with text (un)marshalers so YAML,
// JSON and the CLI all accept the same spellings. Unknown values are
// reported as CONFIGURATION errors.
package experiment
