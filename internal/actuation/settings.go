package actuation

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// ThresholdSettings configures the threshold trigger model.
type ThresholdSettings struct {
	AccelerationThreshold float64       // g
	PlayTime              time.Duration // movie plays at MaxSpeed this long after a trigger
	DeadTime              time.Duration // refractory period after PlayTime
	MaxSpeed              float64
}

// PhysicalSettings configures the physical integrator model.
type PhysicalSettings struct {
	MassCoef     float64
	FrictionCoef float64
	MaxSpeed     float64
	DT           float64 // seconds applied per sample
}

// SoundSettings is the sound pair used while the mobile is moving.
type SoundSettings struct {
	MobileSpeed  float64
	MobileVolume float64
}

// Settings selects the initial model and carries coefficients for both.
type Settings struct {
	Model     experiment.ModelKind
	Threshold ThresholdSettings
	Physical  PhysicalSettings
	Sound     SoundSettings
}

// DefaultSettings returns the coefficients used by the lab setup.
func DefaultSettings() Settings {
	return Settings{
		Model: experiment.ModelThresholdTrigger,
		Threshold: ThresholdSettings{
			AccelerationThreshold: 0.6,
			PlayTime:              650 * time.Millisecond,
			DeadTime:              650 * time.Millisecond,
			MaxSpeed:              90,
		},
		Physical: PhysicalSettings{
			MassCoef:     3000,
			FrictionCoef: 300,
			MaxSpeed:     90,
			DT:           0.01,
		},
		Sound: SoundSettings{
			MobileSpeed:  2.0,
			MobileVolume: 1.0,
		},
	}
}

// Validate rejects settings no model can run with.
func (s Settings) Validate() error {
	if !s.Model.Valid() {
		return experiment.NewConfigurationError("validate actuation", fmt.Sprintf("unknown model %d", int(s.Model)))
	}

	t := s.Threshold
	switch {
	case !finite(t.AccelerationThreshold) || t.AccelerationThreshold < 0:
		return invalid("threshold.acceleration_threshold", t.AccelerationThreshold)
	case t.PlayTime <= 0:
		return invalid("threshold.play_time", t.PlayTime)
	case t.DeadTime < 0:
		return invalid("threshold.dead_time", t.DeadTime)
	case !finite(t.MaxSpeed) || t.MaxSpeed <= 0:
		return invalid("threshold.max_speed", t.MaxSpeed)
	}

	p := s.Physical
	switch {
	case !finite(p.MassCoef) || p.MassCoef < 0:
		return invalid("physical.mass_coef", p.MassCoef)
	case !finite(p.FrictionCoef) || p.FrictionCoef < 0:
		return invalid("physical.friction_coef", p.FrictionCoef)
	case !finite(p.MaxSpeed) || p.MaxSpeed <= 0:
		return invalid("physical.max_speed", p.MaxSpeed)
	case !finite(p.DT) || p.DT <= 0:
		return invalid("physical.dt", p.DT)
	}

	if !finite(s.Sound.MobileSpeed) || s.Sound.MobileSpeed <= 0 {
		return invalid("sound.mobile_speed", s.Sound.MobileSpeed)
	}
	if !finite(s.Sound.MobileVolume) || s.Sound.MobileVolume < 0 {
		return invalid("sound.mobile_volume", s.Sound.MobileVolume)
	}
	return nil
}

func invalid(field string, v any) error {
	return experiment.NewConfigurationError("validate actuation", fmt.Sprintf("%s out of range: %v", field, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
