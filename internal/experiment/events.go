package experiment

import (
	"fmt"
	"math"
	"time"
)

// Phase marks the beginning or end of a logged subject.
type Phase string

const (
	PhaseStart Phase = "Start"
	PhaseEnd   Phase = "End"
)

// Event-log subjects that are not step descriptions.
const (
	SubjectTask  = "Task"
	SubjectPause = "Pause"
)

// TimestampLayout is ISO-8601 with microseconds, matching what analysis scripts parse.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// FormatTimestamp renders t in local time using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// EventLogEntry is one append-only lifecycle record.
// Seq orders entries within a run; Timestamp is informational.
type EventLogEntry struct {
	RunID     string `json:"run_id"`
	Seq       int64  `json:"seq"`
	Subject   string `json:"subject"`
	Phase     Phase  `json:"phase"`
	Timestamp string `json:"timestamp"`
}

func (e EventLogEntry) String() string {
	return fmt.Sprintf("%d %s %s %s", e.Seq, e.Subject, e.Phase, e.Timestamp)
}

// Sample is one acceleration reading from a limb sensor, in g.
type Sample struct {
	Limb      Limb    `json:"limb"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"magnitude"`
	Timestamp float64 `json:"t"`
}

// NewSample builds a sample and computes its magnitude.
func NewSample(limb Limb, x, y, z, timestamp float64) Sample {
	return Sample{
		Limb:      limb,
		X:         x,
		Y:         y,
		Z:         z,
		Magnitude: math.Sqrt(x*x + y*y + z*z),
		Timestamp: timestamp,
	}
}

// MovieEvent names the renderer mode carried on the movie channel.
type MovieEvent string

const (
	MovieFixation MovieEvent = "fixation_movie"
	MovieMobile   MovieEvent = "mobile_movie"
	MovieDark     MovieEvent = "dark"
)

// MovieCommand sets the renderer mode and playback speed.
type MovieCommand struct {
	Event MovieEvent `json:"event"`
	Value int        `json:"value"`
}

// SoundCommand sets mobile sound playback speed and volume.
type SoundCommand struct {
	Speed  float64
	Volume float64
}

// Wire renders the command as "<speed>,<volume>" with one decimal place.
func (c SoundCommand) Wire() string {
	return fmt.Sprintf("%.1f,%.1f", c.Speed, c.Volume)
}

// Rounded returns c at the one-decimal precision the wire carries. Two
// commands are the same frame exactly when their Rounded values are equal.
func (c SoundCommand) Rounded() SoundCommand {
	return SoundCommand{
		Speed:  math.Round(c.Speed*10) / 10,
		Volume: math.Round(c.Volume*10) / 10,
	}
}

// AudioCommand is a sound-subsystem instruction on the audio channel.
type AudioCommand string

const (
	AudioAcquire         AudioCommand = "acquire"
	AudioBackgroundStart AudioCommand = "background_start"
	AudioBackgroundStop  AudioCommand = "background_stop"
	AudioEndOfStepCue    AudioCommand = "end_of_step_cue"
	AudioStopAll         AudioCommand = "stop_all"
)

// RunRecord identifies one run in the event log.
type RunRecord struct {
	RunID                string  `json:"run_id"`
	TaskID               string  `json:"task_id"`
	TaskName             string  `json:"task_name"`
	ParticipantID        int     `json:"participant_id"`
	AgeMonths            int     `json:"age_months"`
	TrialNumber          int     `json:"trial_number"`
	Steps                []Step  `json:"steps"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	TimelineHash         string  `json:"timeline_hash"`
	StartedAt            string  `json:"started_at"`
	Version              string  `json:"version"`
}
