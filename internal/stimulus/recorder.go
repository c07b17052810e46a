package stimulus

import (
	"sync"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/timer"
)

// Recorder is an in-memory sink that keeps every frame with its publish time.
type Recorder struct {
	clock timer.Clock

	mu       sync.Mutex
	messages []Message
	fail     error
}

// NewRecorder creates a recorder stamping frames with clock. A nil clock
// selects the wall clock.
func NewRecorder(clock timer.Clock) *Recorder {
	if clock == nil {
		clock = timer.RealClock{}
	}
	return &Recorder{clock: clock}
}

// Send records the frame. It returns the error set by FailWith, after recording.
func (r *Recorder) Send(ch Channel, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]byte, len(payload))
	copy(p, payload)
	r.messages = append(r.messages, Message{Channel: ch, Payload: p, At: r.clock.Now()})
	return r.fail
}

// FailWith makes subsequent sends report err. Nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// Messages returns a copy of every recorded frame, optionally filtered to channels.
func (r *Recorder) Messages(channels ...Channel) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, 0, len(r.messages))
	for _, m := range r.messages {
		if len(channels) == 0 || containsChannel(channels, m.Channel) {
			out = append(out, m)
		}
	}
	return out
}

// Movies decodes every recorded movie frame.
func (r *Recorder) Movies() []experiment.MovieCommand {
	var out []experiment.MovieCommand
	for _, m := range r.Messages(ChannelMovie) {
		if cmd, err := DecodeMovie(m.Payload); err == nil {
			out = append(out, cmd)
		}
	}
	return out
}

// Sounds decodes every recorded sound frame.
func (r *Recorder) Sounds() []experiment.SoundCommand {
	var out []experiment.SoundCommand
	for _, m := range r.Messages(ChannelSound) {
		if cmd, err := DecodeSound(m.Payload); err == nil {
			out = append(out, cmd)
		}
	}
	return out
}

// AudioCommands decodes every recorded audio frame.
func (r *Recorder) AudioCommands() []experiment.AudioCommand {
	var out []experiment.AudioCommand
	for _, m := range r.Messages(ChannelAudio) {
		if cmd, err := DecodeAudio(m.Payload); err == nil {
			out = append(out, cmd)
		}
	}
	return out
}

// Reset discards recorded frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

func containsChannel(list []Channel, c Channel) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
