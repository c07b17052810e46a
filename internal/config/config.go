// Package config loads experiment configuration files and process settings.
//
// An experiment file is YAML checked in three passes: strict decoding into
// Go types (unknown fields rejected), the embedded CUE schema, and the
// ordering rules a timeline must satisfy. Every problem found is reported;
// Load folds them into one CONFIGURATION error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/agency/internal/actuation"
	"github.com/roach88/agency/internal/experiment"
)

// DefaultRateHz is the sensor rate used when the file does not set one.
const DefaultRateHz = 100

// Experiment is a decoded experiment configuration file.
type Experiment struct {
	Task      experiment.Participant `yaml:"task"`
	Sensors   Sensors                `yaml:"sensors"`
	Actuation Actuation              `yaml:"actuation"`
	Stimulus  Stimulus               `yaml:"stimulus"`
	Steps     []experiment.Step      `yaml:"steps"`
}

// Sensors configures the limb sensor streams.
type Sensors struct {
	RateHz float64           `yaml:"rate_hz"`
	Limbs  []experiment.Limb `yaml:"limbs"`
}

// Actuation selects the model and overrides its coefficients. Unset fields
// keep actuation.DefaultSettings values.
type Actuation struct {
	Model     string          `yaml:"model"`
	Threshold ThresholdConfig `yaml:"threshold"`
	Physical  PhysicalConfig  `yaml:"physical"`
	Sound     SoundConfig     `yaml:"sound"`
}

type ThresholdConfig struct {
	AccelerationG *float64 `yaml:"acceleration_g"`
	PlayTimeMS    *int     `yaml:"play_time_ms"`
	DeadTimeMS    *int     `yaml:"dead_time_ms"`
	MaxSpeed      *float64 `yaml:"max_speed"`
}

type PhysicalConfig struct {
	MassCoef     *float64 `yaml:"mass_coef"`
	FrictionCoef *float64 `yaml:"friction_coef"`
	MaxSpeed     *float64 `yaml:"max_speed"`
	DT           *float64 `yaml:"dt"`
}

type SoundConfig struct {
	MobileSpeed  *float64 `yaml:"mobile_speed"`
	MobileVolume *float64 `yaml:"mobile_volume"`
}

// Stimulus configures the renderer-facing defaults.
type Stimulus struct {
	FixationSpeed *int `yaml:"fixation_speed"`
}

// Load reads and validates the experiment file at path.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, asConfigurationError(path, []ValidationError{{
			Field:   "file",
			Message: err.Error(),
			Code:    ErrReadFailed,
		}})
	}
	return Parse(path, data)
}

// Parse validates data as an experiment file named filename.
func Parse(filename string, data []byte) (*Experiment, error) {
	exp, errs := parse(filename, data)
	if len(errs) > 0 {
		return nil, asConfigurationError(filename, errs)
	}
	return exp, nil
}

// Validate reports every problem in data without stopping at the first.
func Validate(filename string, data []byte) []ValidationError {
	_, errs := parse(filename, data)
	return errs
}

func parse(filename string, data []byte) (*Experiment, []ValidationError) {
	exp, err := decode(data)
	if err != nil {
		return nil, []ValidationError{decodeError(err)}
	}

	if errs := checkSchema(filename, data); len(errs) > 0 {
		return nil, errs
	}

	var errs []ValidationError
	if err := experiment.ValidateSteps(exp.Steps); err != nil {
		errs = append(errs, ValidationError{Field: "steps", Message: message(err), Code: ErrStepIndex})
	}
	if _, err := exp.ActuationSettings(); err != nil {
		errs = append(errs, ValidationError{Field: "actuation", Message: message(err), Code: ErrSettings})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if exp.Sensors.RateHz == 0 {
		exp.Sensors.RateHz = DefaultRateHz
	}
	if len(exp.Sensors.Limbs) == 0 {
		exp.Sensors.Limbs = append([]experiment.Limb(nil), experiment.AllLimbs...)
	}
	return exp, nil
}

func decode(data []byte) (*Experiment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var exp Experiment
	if err := dec.Decode(&exp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty configuration")
		}
		return nil, err
	}
	return &exp, nil
}

func decodeError(err error) ValidationError {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		return ValidationError{Field: "yaml", Message: err.Error(), Code: ErrUnknownField}
	}
	var ce *experiment.Error
	if errors.As(err, &ce) {
		return ValidationError{Field: "yaml", Message: ce.Message, Code: ErrSchemaViolation}
	}
	return ValidationError{Field: "yaml", Message: err.Error(), Code: ErrYAMLSyntax}
}

func message(err error) string {
	var e *experiment.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// ActuationSettings merges the file's overrides onto the defaults and
// validates the result.
func (e *Experiment) ActuationSettings() (actuation.Settings, error) {
	s := actuation.DefaultSettings()
	a := e.Actuation

	if a.Model != "" {
		kind, err := experiment.ParseModelKind(a.Model)
		if err != nil {
			return s, err
		}
		s.Model = kind
	}

	setFloat(&s.Threshold.AccelerationThreshold, a.Threshold.AccelerationG)
	setMillis(&s.Threshold.PlayTime, a.Threshold.PlayTimeMS)
	setMillis(&s.Threshold.DeadTime, a.Threshold.DeadTimeMS)
	setFloat(&s.Threshold.MaxSpeed, a.Threshold.MaxSpeed)

	setFloat(&s.Physical.MassCoef, a.Physical.MassCoef)
	setFloat(&s.Physical.FrictionCoef, a.Physical.FrictionCoef)
	setFloat(&s.Physical.MaxSpeed, a.Physical.MaxSpeed)
	setFloat(&s.Physical.DT, a.Physical.DT)

	setFloat(&s.Sound.MobileSpeed, a.Sound.MobileSpeed)
	setFloat(&s.Sound.MobileVolume, a.Sound.MobileVolume)

	return s, s.Validate()
}

// FixationSpeed returns the configured fixation movie speed or def.
func (e *Experiment) FixationSpeed(def int) int {
	if e.Stimulus.FixationSpeed != nil {
		return *e.Stimulus.FixationSpeed
	}
	return def
}

// SampleInterval is the period between samples at the configured rate.
func (e *Experiment) SampleInterval() time.Duration {
	rate := e.Sensors.RateHz
	if rate <= 0 {
		rate = DefaultRateHz
	}
	return time.Duration(float64(time.Second) / rate)
}

// Fingerprint hashes the timeline and effective actuation settings so
// logged runs can be matched to the configuration that produced them.
func (e *Experiment) Fingerprint() (string, error) {
	timeline, err := experiment.TimelineHash(e.Steps)
	if err != nil {
		return "", err
	}
	s, err := e.ActuationSettings()
	if err != nil {
		return "", err
	}
	return experiment.Fingerprint(map[string]any{
		"timeline":        timeline,
		"model":           s.Model.String(),
		"threshold_ug":    experiment.Micros(s.Threshold.AccelerationThreshold),
		"play_time_ms":    s.Threshold.PlayTime.Milliseconds(),
		"dead_time_ms":    s.Threshold.DeadTime.Milliseconds(),
		"threshold_speed": experiment.Micros(s.Threshold.MaxSpeed),
		"mass_coef":       experiment.Micros(s.Physical.MassCoef),
		"friction_coef":   experiment.Micros(s.Physical.FrictionCoef),
		"physical_speed":  experiment.Micros(s.Physical.MaxSpeed),
		"dt_us":           experiment.Micros(s.Physical.DT),
		"mobile_speed":    experiment.Micros(s.Sound.MobileSpeed),
		"mobile_volume":   experiment.Micros(s.Sound.MobileVolume),
		"fixation_speed":  e.FixationSpeed(0),
	})
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setMillis(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}
