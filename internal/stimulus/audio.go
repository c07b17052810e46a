package stimulus

import (
	"errors"
	"sync"

	"github.com/roach88/agency/internal/experiment"
)

// ErrReleased is returned by Audio commands issued outside an Acquire/Release pair.
var ErrReleased = errors.New("stimulus: audio not acquired")

// Audio owns the remote sound subsystem for the duration of a run.
//
// Acquire pairs with Release; commands in between are forwarded on the audio
// channel. Release always sends stop_all so nothing keeps playing after a run.
type Audio struct {
	bus *Bus

	mu         sync.Mutex
	acquired   bool
	background bool
}

// NewAudio creates a released audio resource.
func NewAudio(bus *Bus) *Audio {
	return &Audio{bus: bus}
}

// Acquire claims the sound subsystem. Acquiring twice is a no-op.
func (a *Audio) Acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.acquired {
		return nil
	}
	a.acquired = true
	return a.bus.PublishAudio(experiment.AudioAcquire)
}

// Release stops all playback and gives up the subsystem. Releasing twice is a no-op.
func (a *Audio) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.acquired {
		return nil
	}
	a.acquired = false
	a.background = false
	return a.bus.PublishAudio(experiment.AudioStopAll)
}

// Acquired reports whether the subsystem is held.
func (a *Audio) Acquired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acquired
}

// BackgroundPlaying reports whether background music was started and not stopped.
func (a *Audio) BackgroundPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.background
}

// BackgroundStart starts the step's background music.
func (a *Audio) BackgroundStart() error {
	return a.command(experiment.AudioBackgroundStart, func() { a.background = true })
}

// BackgroundStop stops background music if it is playing.
func (a *Audio) BackgroundStop() error {
	a.mu.Lock()
	playing := a.background
	a.mu.Unlock()
	if !playing {
		return nil
	}
	return a.command(experiment.AudioBackgroundStop, func() { a.background = false })
}

// EndOfStepCue plays the short cue that marks a step boundary.
func (a *Audio) EndOfStepCue() error {
	return a.command(experiment.AudioEndOfStepCue, nil)
}

// StopAll silences everything without releasing the subsystem.
func (a *Audio) StopAll() error {
	return a.command(experiment.AudioStopAll, func() { a.background = false })
}

func (a *Audio) command(cmd experiment.AudioCommand, apply func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.acquired {
		return ErrReleased
	}
	if apply != nil {
		apply()
	}
	return a.bus.PublishAudio(cmd)
}
