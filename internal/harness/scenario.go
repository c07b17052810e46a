package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/agency/internal/config"
)

// Scenario is a scripted run of one experiment configuration.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Experiment is an inline experiment configuration.
	Experiment yaml.Node `yaml:"experiment"`

	// Script is the ordered list of actions to perform.
	Script []Action `yaml:"script"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`

	// RunIDs fixes the run identifiers handed out, in order.
	// Defaults to run-1, run-2, ...
	RunIDs []string `yaml:"run_ids,omitempty"`

	// Parsed experiment, filled in by LoadScenario / ParseScenario.
	config *config.Experiment
}

// Action is one scripted step.
type Action struct {
	// At is the scenario time in seconds. The clock is advanced to it before
	// the action runs. Omitted means "now".
	At *float64 `yaml:"at,omitempty"`

	Action string `yaml:"action"`

	// Seconds is the span for advance.
	Seconds float64 `yaml:"seconds,omitempty"`

	// Limb is used by sample and limb.
	Limb string `yaml:"limb,omitempty"`

	// Magnitude is shorthand for a reading with x=magnitude, y=z=0.
	Magnitude *float64 `yaml:"magnitude,omitempty"`
	X         float64  `yaml:"x,omitempty"`
	Y         float64  `yaml:"y,omitempty"`
	Z         float64  `yaml:"z,omitempty"`

	// Model is used by model.
	Model string `yaml:"model,omitempty"`

	// ExpectError is the error code a control action must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Action names.
const (
	ActionStart   = "start"
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionStop    = "stop"
	ActionSample  = "sample"
	ActionLimb    = "limb"
	ActionModel   = "model"
	ActionAdvance = "advance"
)

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Events are "Subject Phase" entries (event_order).
	Events []string `yaml:"events,omitempty"`

	// Event is a single "Subject Phase" entry (event_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number (event_count, sample_count).
	Count int `yaml:"count,omitempty"`

	// State and StepIndex describe the final run (final_state).
	State     string `yaml:"state,omitempty"`
	StepIndex *int   `yaml:"step_index,omitempty"`

	// Values are the expected commands (movie_values, sound_values).
	Values []string `yaml:"values,omitempty"`

	// Limb selects the samples counted (sample_count).
	Limb string `yaml:"limb,omitempty"`
}

// Assertion type constants.
const (
	AssertEventOrder  = "event_order"
	AssertEventCount  = "event_count"
	AssertFinalState  = "final_state"
	AssertMovieValues = "movie_values"
	AssertSoundValues = "sound_values"
	AssertSampleCount = "sample_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface instead of being ignored.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario parses scenario YAML; filename is used in error messages.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	expYAML, err := yaml.Marshal(&scenario.Experiment)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: experiment: %w", err)
	}
	exp, err := config.Parse(filename+"#experiment", expYAML)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	scenario.config = exp
	return &scenario, nil
}

// Config returns the parsed experiment configuration.
func (s *Scenario) Config() *config.Experiment {
	return s.config
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Experiment.Kind == 0 {
		return fmt.Errorf("experiment is required")
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("script must contain at least one action")
	}

	last := 0.0
	for i, a := range s.Script {
		switch a.Action {
		case ActionStart, ActionPause, ActionResume, ActionStop:
		case ActionSample:
			if a.Limb == "" {
				return fmt.Errorf("script[%d]: sample requires limb", i)
			}
		case ActionLimb:
			if a.Limb == "" {
				return fmt.Errorf("script[%d]: limb requires limb", i)
			}
		case ActionModel:
			if a.Model == "" {
				return fmt.Errorf("script[%d]: model requires model", i)
			}
		case ActionAdvance:
			if a.Seconds <= 0 {
				return fmt.Errorf("script[%d]: advance requires positive seconds", i)
			}
		default:
			return fmt.Errorf("script[%d]: unknown action %q", i, a.Action)
		}
		if a.At != nil {
			if *a.At < last {
				return fmt.Errorf("script[%d]: at %.3f is before %.3f", i, *a.At, last)
			}
			last = *a.At
		}
		if a.Action == ActionAdvance {
			last += a.Seconds
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertEventOrder:
			if len(a.Events) == 0 {
				return fmt.Errorf("assertions[%d]: event_order requires events", i)
			}
		case AssertEventCount:
			if a.Event == "" {
				return fmt.Errorf("assertions[%d]: event_count requires event", i)
			}
		case AssertFinalState:
			if a.State == "" {
				return fmt.Errorf("assertions[%d]: final_state requires state", i)
			}
		case AssertMovieValues, AssertSoundValues:
		case AssertSampleCount:
			if a.Limb == "" {
				return fmt.Errorf("assertions[%d]: sample_count requires limb", i)
			}
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}
	return nil
}
