package actuation

import (
	"math"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// State is the per-model actuation state. It is reset whenever the active
// limb or model changes.
type State struct {
	Velocity        float64 `json:"velocity"`
	Triggerable     bool    `json:"triggerable"`
	LastSoundSpeed  float64 `json:"last_sound_speed"`
	LastSoundVolume float64 `json:"last_sound_volume"`
}

// env is what a model may do besides mutating State.
type env interface {
	publishMovie(value int)
	after(d time.Duration, name string, fn func(st *State))
	triggered()
}

// model is one control law.
type model interface {
	kind() experiment.ModelKind
	reset(st *State)
	onSample(env env, st *State, s experiment.Sample)
}

func newModel(kind experiment.ModelKind, s Settings) model {
	switch kind {
	case experiment.ModelPhysical:
		return &physicalModel{cfg: s.Physical}
	default:
		return &thresholdModel{cfg: s.Threshold}
	}
}

type thresholdModel struct {
	cfg ThresholdSettings
}

func (m *thresholdModel) kind() experiment.ModelKind { return experiment.ModelThresholdTrigger }

func (m *thresholdModel) reset(st *State) {
	st.Velocity = 0
	st.Triggerable = true
}

func (m *thresholdModel) onSample(env env, st *State, s experiment.Sample) {
	if !st.Triggerable || !(s.Magnitude > m.cfg.AccelerationThreshold) {
		return
	}
	st.Triggerable = false
	st.Velocity = m.cfg.MaxSpeed
	env.triggered()
	env.publishMovie(roundSpeed(m.cfg.MaxSpeed))

	env.after(m.cfg.PlayTime, "stop movie", func(st *State) {
		st.Velocity = 0
		env.publishMovie(0)
		env.after(m.cfg.DeadTime, "make triggerable", func(st *State) {
			st.Triggerable = true
		})
	})
}

type physicalModel struct {
	cfg PhysicalSettings
}

func (m *physicalModel) kind() experiment.ModelKind { return experiment.ModelPhysical }

func (m *physicalModel) reset(st *State) {
	st.Velocity = 0
	st.Triggerable = true
}

func (m *physicalModel) onSample(env env, st *State, s experiment.Sample) {
	v := st.Velocity
	next := Integrate(v, s.Magnitude, m.cfg)
	st.Velocity = next
	env.publishMovie(roundSpeed(next))
}

// Integrate applies one fixed-dt step of the physical model to velocity v.
//
// The step ignores the sample's actual inter-arrival time, so velocity is
// only accurate when the sensor delivers at 1/dt Hz.
func Integrate(v, magnitude float64, cfg PhysicalSettings) float64 {
	next := v + cfg.MassCoef*magnitude*cfg.DT - cfg.FrictionCoef*cfg.DT
	if (next < 5 && next < v) || next < 0 {
		next = 0
	}
	if next > cfg.MaxSpeed {
		next = cfg.MaxSpeed
	}
	return next
}

func roundSpeed(v float64) int {
	return int(math.Round(v))
}
