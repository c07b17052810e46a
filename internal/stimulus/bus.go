package stimulus

import (
	"errors"
	"log/slog"

	"github.com/roach88/agency/internal/experiment"
)

// Sink accepts encoded frames. Hub and Recorder are sinks.
type Sink interface {
	Send(ch Channel, payload []byte) error
}

// Bus encodes typed commands and forwards them to every sink.
//
// A failing sink does not stop delivery to the others. The combined error is
// returned as a TRANSPORT_FAILURE for the caller to log; it never needs to be
// propagated further.
type Bus struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewBus creates a bus over sinks.
func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{sinks: sinks, logger: logger}
}

// PublishMovie sends a movie frame.
func (b *Bus) PublishMovie(cmd experiment.MovieCommand) error {
	return b.send("publish movie", ChannelMovie, EncodeMovie(cmd))
}

// PublishSound sends a sound frame.
func (b *Bus) PublishSound(cmd experiment.SoundCommand) error {
	return b.send("publish sound", ChannelSound, EncodeSound(cmd))
}

// PublishAudio sends an audio-subsystem command.
func (b *Bus) PublishAudio(cmd experiment.AudioCommand) error {
	return b.send("publish audio", ChannelAudio, EncodeAudio(cmd))
}

func (b *Bus) send(op string, ch Channel, payload []byte) error {
	var errs []error
	for _, s := range b.sinks {
		if err := s.Send(ch, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	b.logger.Debug("bus send failed", "channel", ch, "payload", string(payload), "error", err)
	return experiment.NewTransportFailure(op, err)
}
