package harness

import (
	"github.com/roach88/agency/internal/experiment"
)

// Trace event kinds.
const (
	KindEvent = "event"
	KindMovie = "movie"
	KindSound = "sound"
	KindAudio = "audio"
)

// TraceEvent is one entry of a scenario trace: a lifecycle entry from the
// event store or a frame published on the stimulus bus.
type TraceEvent struct {
	// AtMillis is scenario time in milliseconds.
	AtMillis int64  `json:"at_ms"`
	Kind     string `json:"kind"`

	// Lifecycle entries.
	Seq     int64            `json:"seq,omitempty"`
	Subject string           `json:"subject,omitempty"`
	Phase   experiment.Phase `json:"phase,omitempty"`

	// Bus frames, as sent on the wire.
	Payload string `json:"payload,omitempty"`
}

// Label renders a lifecycle entry as "Subject Phase" and a bus frame as its payload.
func (e TraceEvent) Label() string {
	if e.Kind == KindEvent {
		return e.Subject + " " + string(e.Phase)
	}
	return e.Payload
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every action and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace merges lifecycle entries and bus frames in time order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failure. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the run view when the script finished.
	Final experiment.TaskRun `json:"final"`

	// Movies and Sounds are the decoded bus commands in publish order.
	Movies []experiment.MovieCommand `json:"-"`
	Sounds []experiment.SoundCommand `json:"-"`

	// Samples counts recorded samples per limb for the scenario's runs.
	Samples map[experiment.Limb]int `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Samples: make(map[experiment.Limb]int),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
