package actuation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/timer"
)

// Publisher is the outbound stimulus surface. Implementations must not block.
type Publisher interface {
	PublishMovie(cmd experiment.MovieCommand) error
	PublishSound(cmd experiment.SoundCommand) error
}

// Quiet sound pair held while velocity is below 1: near-silent, but at
// normal speed so the next movement is audible without delay.
var quietSound = experiment.SoundCommand{Speed: 1.0, Volume: 0.1}

// Engine is the actuation mapping engine.
type Engine struct {
	pub      Publisher
	timers   *timer.Scheduler
	settings Settings
	logger   *slog.Logger

	mu       sync.Mutex
	limb     experiment.Limb
	model    model
	state    State
	epoch    uint64
	pending  []*timer.Handle
	triggers int
	ignored  int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine with no active limb and the model named in settings.
// The scheduler is shared with the caller; the engine only cancels timers it
// created.
func New(pub Publisher, timers *timer.Scheduler, settings Settings, opts ...Option) (*Engine, error) {
	if pub == nil {
		return nil, fmt.Errorf("actuation: nil publisher")
	}
	if timers == nil {
		return nil, fmt.Errorf("actuation: nil scheduler")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		pub:      pub,
		timers:   timers,
		settings: settings,
		logger:   slog.Default(),
		limb:     experiment.LimbNone,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.model = newModel(settings.Model, settings)
	e.model.reset(&e.state)
	return e, nil
}

// SetActiveLimb selects which limb's samples drive actuation.
// LimbNone disconnects actuation. Changing the limb resets State and cancels
// pending model timers.
func (e *Engine) SetActiveLimb(limb experiment.Limb) error {
	if !limb.Valid() {
		return experiment.NewConfigurationError("set active limb", fmt.Sprintf("unknown limb %d", int(limb)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limb == limb {
		return nil
	}
	e.logger.Info("active limb changed", "from", e.limb, "to", limb)
	e.limb = limb
	e.resetLocked()
	return nil
}

// SelectModel swaps the control law. Changing the model resets State and
// cancels pending model timers.
func (e *Engine) SelectModel(kind experiment.ModelKind) error {
	if !kind.Valid() {
		return experiment.NewConfigurationError("select model", fmt.Sprintf("unknown model %d", int(kind)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model.kind() == kind {
		return nil
	}
	e.logger.Info("actuation model changed", "from", e.model.kind(), "to", kind)
	e.model = newModel(kind, e.settings)
	e.resetLocked()
	return nil
}

// Reset clears State and cancels pending model timers without changing the
// limb or model.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.epoch++
	for _, h := range e.pending {
		h.Cancel()
	}
	e.pending = nil
	e.state = State{}
	e.model.reset(&e.state)
}

// OnSample runs one sample through the active model. Samples for other limbs
// and non-finite readings are ignored. It never blocks on I/O.
func (e *Engine) OnSample(s experiment.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limb == experiment.LimbNone || s.Limb != e.limb {
		return
	}
	if !finite(s.Magnitude) {
		e.ignored++
		return
	}

	e.model.onSample(modelEnv{e: e, epoch: e.epoch}, &e.state, s)
	e.applySoundLocked()
}

// Consume feeds samples from ch to OnSample until ch is closed or ctx is done.
func (e *Engine) Consume(ctx context.Context, ch <-chan experiment.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			e.OnSample(s)
		}
	}
}

// State returns a copy of the current actuation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActiveLimb returns the limb currently driving actuation.
func (e *Engine) ActiveLimb() experiment.Limb {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limb
}

// Model returns the selected control law.
func (e *Engine) Model() experiment.ModelKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.kind()
}

// Triggers returns how many threshold triggers have fired since New.
func (e *Engine) Triggers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggers
}

// Ignored returns how many active-limb samples were dropped as non-finite.
func (e *Engine) Ignored() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ignored
}

// applySoundLocked publishes the sound pair matching the current velocity
// if it differs from the last one published. Pairs are compared at wire
// precision.
func (e *Engine) applySoundLocked() {
	target := quietSound
	if e.state.Velocity >= 1 {
		target = experiment.SoundCommand{
			Speed:  e.settings.Sound.MobileSpeed,
			Volume: e.settings.Sound.MobileVolume,
		}.Rounded()
	}
	if target.Speed == e.state.LastSoundSpeed && target.Volume == e.state.LastSoundVolume {
		return
	}
	// Fire and forget: the pair is recorded as sent even if the bus drops it.
	e.state.LastSoundSpeed = target.Speed
	e.state.LastSoundVolume = target.Volume
	if err := e.pub.PublishSound(target); err != nil {
		e.logger.Debug("sound publish failed", "sound", target.Wire(), "error", err)
	}
}

// modelEnv binds model side effects to the epoch in which they were issued.
type modelEnv struct {
	e     *Engine
	epoch uint64
}

func (m modelEnv) publishMovie(value int) {
	cmd := experiment.MovieCommand{Event: experiment.MovieMobile, Value: value}
	if err := m.e.pub.PublishMovie(cmd); err != nil {
		m.e.logger.Debug("movie publish failed", "value", value, "error", err)
	}
}

func (m modelEnv) triggered() {
	m.e.triggers++
	m.e.logger.Debug("threshold trigger", "count", m.e.triggers)
}

// after schedules fn under the engine lock. Called with the lock held.
func (m modelEnv) after(d time.Duration, name string, fn func(st *State)) {
	e := m.e
	var h *timer.Handle
	h, err := e.timers.After(d, name, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.epoch != m.epoch {
			return
		}
		e.forgetLocked(h)
		fn(&e.state)
		e.applySoundLocked()
	})
	if err != nil {
		e.logger.Warn("actuation timer rejected", "timer", name, "error", err)
		return
	}
	e.pending = append(e.pending, h)
}

func (e *Engine) forgetLocked(h *timer.Handle) {
	for i, p := range e.pending {
		if p == h {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}
