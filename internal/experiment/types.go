package experiment

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Limb identifies a limb-mounted sensor. LimbNone means no limb drives actuation.
type Limb int

const (
	LimbNone Limb = iota
	LimbLeftHand
	LimbRightHand
	LimbLeftLeg
	LimbRightLeg
)

// AllLimbs lists the four sensor-bearing limbs in a stable order.
var AllLimbs = []Limb{LimbLeftHand, LimbRightHand, LimbLeftLeg, LimbRightLeg}

var limbNames = map[Limb]string{
	LimbNone:      "none",
	LimbLeftHand:  "left_hand",
	LimbRightHand: "right_hand",
	LimbLeftLeg:   "left_leg",
	LimbRightLeg:  "right_leg",
}

func (l Limb) String() string {
	if name, ok := limbNames[l]; ok {
		return name
	}
	return fmt.Sprintf("limb(%d)", int(l))
}

// Valid reports whether l is one of the declared limbs (including LimbNone).
func (l Limb) Valid() bool {
	_, ok := limbNames[l]
	return ok
}

// ParseLimb accepts snake_case ("left_hand") and CamelCase ("LeftHand") spellings.
func ParseLimb(s string) (Limb, error) {
	key := normalizeName(s)
	for l, name := range limbNames {
		if normalizeName(name) == key {
			return l, nil
		}
	}
	return LimbNone, NewConfigurationError("parse limb", fmt.Sprintf("unknown limb %q", s))
}

func (l Limb) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, NewConfigurationError("marshal limb", fmt.Sprintf("unknown limb %d", int(l)))
	}
	return []byte(l.String()), nil
}

func (l *Limb) UnmarshalText(b []byte) error {
	parsed, err := ParseLimb(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// StepKind is the description of a timeline step.
type StepKind int

const (
	StepFixation StepKind = iota + 1
	StepBaselineHold
	StepConnect
	StepDisconnect
	StepReconnect
)

var stepKindNames = map[StepKind]string{
	StepFixation:     "Fixation",
	StepBaselineHold: "BaselineHold",
	StepConnect:      "Connect",
	StepDisconnect:   "Disconnect",
	StepReconnect:    "Reconnect",
}

func (k StepKind) String() string {
	if name, ok := stepKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(k))
}

func (k StepKind) Valid() bool {
	_, ok := stepKindNames[k]
	return ok
}

// ParseStepKind accepts "BaselineHold", "baseline_hold" and "baselinehold".
func ParseStepKind(s string) (StepKind, error) {
	key := normalizeName(s)
	for k, name := range stepKindNames {
		if strings.ToLower(name) == key {
			return k, nil
		}
	}
	return 0, NewConfigurationError("parse step", fmt.Sprintf("unknown step description %q", s))
}

func (k StepKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, NewConfigurationError("marshal step", fmt.Sprintf("unknown step description %d", int(k)))
	}
	return []byte(k.String()), nil
}

func (k *StepKind) UnmarshalText(b []byte) error {
	parsed, err := ParseStepKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ModelKind selects the actuation control law.
type ModelKind int

const (
	ModelThresholdTrigger ModelKind = iota + 1
	ModelPhysical
)

var modelNames = map[ModelKind]string{
	ModelThresholdTrigger: "threshold",
	ModelPhysical:         "physical",
}

func (m ModelKind) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("model(%d)", int(m))
}

func (m ModelKind) Valid() bool {
	_, ok := modelNames[m]
	return ok
}

// ParseModelKind accepts "threshold", "threshold_trigger", "ThresholdTrigger" and "physical".
func ParseModelKind(s string) (ModelKind, error) {
	switch normalizeName(s) {
	case "threshold", "thresholdtrigger":
		return ModelThresholdTrigger, nil
	case "physical":
		return ModelPhysical, nil
	}
	return 0, NewConfigurationError("parse model", fmt.Sprintf("unknown actuation model %q", s))
}

func (m ModelKind) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, NewConfigurationError("marshal model", fmt.Sprintf("unknown actuation model %d", int(m)))
	}
	return []byte(m.String()), nil
}

func (m *ModelKind) UnmarshalText(b []byte) error {
	parsed, err := ParseModelKind(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// Step is one timed phase of the timeline. Index is 1-based.
type Step struct {
	Index           int      `json:"index" yaml:"index"`
	Description     StepKind `json:"description" yaml:"description"`
	DurationSeconds float64  `json:"duration_seconds" yaml:"duration_seconds"`
	AssignedLimb    Limb     `json:"assigned_limb" yaml:"assigned_limb"`
	BackgroundMusic bool     `json:"background_music" yaml:"background_music"`
}

// Duration converts DurationSeconds to a time.Duration.
func (s Step) Duration() time.Duration {
	return SecondsToDuration(s.DurationSeconds)
}

// SecondsToDuration converts fractional seconds, rounding to the nearest nanosecond.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}

// ValidateSteps checks the invariants a timeline must satisfy before a run starts.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return NewConfigurationError("validate steps", "step list is empty")
	}
	for i, s := range steps {
		if s.Index != i+1 {
			return NewConfigurationError("validate steps",
				fmt.Sprintf("step %d has index %d; indices must be unique, ascending and 1-based", i+1, s.Index))
		}
		if !s.Description.Valid() {
			return NewConfigurationError("validate steps", fmt.Sprintf("step %d has unknown description", s.Index))
		}
		if !(s.DurationSeconds > 0) || math.IsInf(s.DurationSeconds, 0) {
			return NewConfigurationError("validate steps",
				fmt.Sprintf("step %d duration must be positive, got %v", s.Index, s.DurationSeconds))
		}
		if !s.AssignedLimb.Valid() {
			return NewConfigurationError("validate steps", fmt.Sprintf("step %d has unknown limb", s.Index))
		}
	}
	return nil
}

// TotalDuration sums the step durations in seconds.
func TotalDuration(steps []Step) float64 {
	var total float64
	for _, s := range steps {
		total += s.DurationSeconds
	}
	return total
}

// RunState is the sequencer state.
type RunState int

const (
	StateStopped RunState = iota
	StateRunning
	StatePaused
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Participant carries the identifying fields of a task run.
type Participant struct {
	TaskName      string `json:"task_name" yaml:"name"`
	ParticipantID int    `json:"participant_id" yaml:"participant"`
	AgeMonths     int    `json:"age_months" yaml:"age_months"`
	TrialNumber   int    `json:"trial_number" yaml:"trial"`
}

// TaskRun is a read-only view of the sequencer's run state.
type TaskRun struct {
	RunID                string   `json:"run_id,omitempty"`
	TaskID               string   `json:"task_id,omitempty"`
	ParticipantID        int      `json:"participant_id"`
	AgeMonths            int      `json:"age_months"`
	TrialNumber          int      `json:"trial_number"`
	Steps                []Step   `json:"steps,omitempty"`
	State                RunState `json:"state"`
	CurrentStepIndex     int      `json:"current_step_index"`
	TotalDurationSeconds float64  `json:"total_duration_seconds"`
	ElapsedSeconds       float64  `json:"elapsed_seconds"`
	RemainingSeconds     float64  `json:"remaining_seconds"`
}

// Progress is a periodic telemetry snapshot.
type Progress struct {
	RunID            string    `json:"run_id"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	CurrentStepIndex int       `json:"current_step_index"`
	At               time.Time `json:"at"`
}
