// Package stimulus is the best-effort publish/subscribe boundary between the
// experiment core and the renderer processes.
//
// Three channels exist. movie carries JSON {"event", "value"} frames, sound
// carries ASCII "<speed>,<volume>" frames, audio carries JSON {"command"}
// frames for the sound subsystem. Publishing never blocks: a subscriber that
// cannot keep up loses frames.
package stimulus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// Channel names a logical bus channel.
type Channel string

const (
	ChannelMovie Channel = "movie"
	ChannelSound Channel = "sound"
	ChannelAudio Channel = "audio"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelMovie, ChannelSound, ChannelAudio}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if string(c) == strings.ToLower(strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Path is the HTTP path renderers subscribe on.
func (c Channel) Path() string {
	return "/bus/" + string(c)
}

// Message is one frame as seen by a subscriber or recorder.
type Message struct {
	Channel Channel   `json:"channel"`
	Payload []byte    `json:"payload"`
	At      time.Time `json:"at"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s", m.Channel, m.Payload)
}

type audioFrame struct {
	Command experiment.AudioCommand `json:"command"`
}

// EncodeMovie renders a movie frame.
func EncodeMovie(cmd experiment.MovieCommand) []byte {
	b, _ := json.Marshal(cmd)
	return b
}

// DecodeMovie parses a movie frame.
func DecodeMovie(payload []byte) (experiment.MovieCommand, error) {
	var cmd experiment.MovieCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("decode movie frame: %w", err)
	}
	return cmd, nil
}

// EncodeSound renders a sound frame.
func EncodeSound(cmd experiment.SoundCommand) []byte {
	return []byte(cmd.Wire())
}

// DecodeSound parses a "<speed>,<volume>" frame.
func DecodeSound(payload []byte) (experiment.SoundCommand, error) {
	parts := strings.Split(strings.TrimSpace(string(payload)), ",")
	if len(parts) != 2 {
		return experiment.SoundCommand{}, fmt.Errorf("decode sound frame %q: want speed,volume", payload)
	}
	speed, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return experiment.SoundCommand{}, fmt.Errorf("decode sound speed: %w", err)
	}
	volume, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return experiment.SoundCommand{}, fmt.Errorf("decode sound volume: %w", err)
	}
	return experiment.SoundCommand{Speed: speed, Volume: volume}, nil
}

// EncodeAudio renders an audio frame.
func EncodeAudio(cmd experiment.AudioCommand) []byte {
	b, _ := json.Marshal(audioFrame{Command: cmd})
	return b
}

// DecodeAudio parses an audio frame.
func DecodeAudio(payload []byte) (experiment.AudioCommand, error) {
	var f audioFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", fmt.Errorf("decode audio frame: %w", err)
	}
	return f.Command, nil
}
