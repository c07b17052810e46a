package experiment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLimb(t *testing.T) {
	tests := []struct {
		in   string
		want Limb
	}{
		{"left_hand", LimbLeftHand},
		{"LeftHand", LimbLeftHand},
		{"Right Hand", LimbRightHand},
		{"left-leg", LimbLeftLeg},
		{"RIGHT_LEG", LimbRightLeg},
		{"None", LimbNone},
	}
	for _, tt := range tests {
		got, err := ParseLimb(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLimb("tail")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestParseStepKind(t *testing.T) {
	k, err := ParseStepKind("baseline_hold")
	require.NoError(t, err)
	assert.Equal(t, StepBaselineHold, k)

	k, err = ParseStepKind("Reconnect")
	require.NoError(t, err)
	assert.Equal(t, StepReconnect, k)

	_, err = ParseStepKind("Nap")
	assert.True(t, IsConfigurationError(err))
}

func TestParseModelKind(t *testing.T) {
	m, err := ParseModelKind("ThresholdTrigger")
	require.NoError(t, err)
	assert.Equal(t, ModelThresholdTrigger, m)

	m, err = ParseModelKind("physical")
	require.NoError(t, err)
	assert.Equal(t, ModelPhysical, m)

	_, err = ParseModelKind("pid")
	assert.True(t, IsConfigurationError(err))
}

func TestStep_YAMLAndJSON(t *testing.T) {
	src := `
index: 2
description: Connect
duration_seconds: 3.5
assigned_limb: left_hand
background_music: true
`
	var s Step
	require.NoError(t, yaml.Unmarshal([]byte(src), &s))
	assert.Equal(t, Step{
		Index:           2,
		Description:     StepConnect,
		DurationSeconds: 3.5,
		AssignedLimb:    LimbLeftHand,
		BackgroundMusic: true,
	}, s)
	assert.Equal(t, 3500*time.Millisecond, s.Duration())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":2,"description":"Connect","duration_seconds":3.5,"assigned_limb":"left_hand","background_music":true}`, string(b))
}

func TestValidateSteps(t *testing.T) {
	good := []Step{
		{Index: 1, Description: StepFixation, DurationSeconds: 2, AssignedLimb: LimbNone},
		{Index: 2, Description: StepConnect, DurationSeconds: 3, AssignedLimb: LimbLeftHand},
	}
	require.NoError(t, ValidateSteps(good))

	tests := map[string][]Step{
		"empty":         nil,
		"zero duration": {{Index: 1, Description: StepFixation, DurationSeconds: 0}},
		"negative":      {{Index: 1, Description: StepFixation, DurationSeconds: -1}},
		"bad index":     {{Index: 2, Description: StepFixation, DurationSeconds: 1}},
		"duplicate index": {
			{Index: 1, Description: StepFixation, DurationSeconds: 1},
			{Index: 1, Description: StepConnect, DurationSeconds: 1},
		},
		"unknown description": {{Index: 1, DurationSeconds: 1}},
		"unknown limb":        {{Index: 1, Description: StepConnect, DurationSeconds: 1, AssignedLimb: Limb(9)}},
	}
	for name, steps := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateSteps(steps)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestTotalDuration(t *testing.T) {
	steps := []Step{
		{DurationSeconds: 2},
		{DurationSeconds: 3},
		{DurationSeconds: 0.25},
	}
	assert.Equal(t, 5.25, TotalDuration(steps))
}

func TestNewSample_Magnitude(t *testing.T) {
	s := NewSample(LimbRightLeg, 0.3, 0.4, 0, 12.5)
	assert.InDelta(t, 0.5, s.Magnitude, 1e-12)
	assert.Equal(t, LimbRightLeg, s.Limb)
	assert.Equal(t, 12.5, s.Timestamp)
}

func TestSoundCommand_Wire(t *testing.T) {
	assert.Equal(t, "1.0,0.1", SoundCommand{Speed: 1, Volume: 0.1}.Wire())
	assert.Equal(t, "2.0,1.5", SoundCommand{Speed: 2, Volume: 1.5}.Wire())
	assert.Equal(t, SoundCommand{Speed: 1.0, Volume: 0.1}, SoundCommand{Speed: 1.04, Volume: 0.12}.Rounded())
	assert.Equal(t, SoundCommand{Speed: 1.1, Volume: 0.2}, SoundCommand{Speed: 1.06, Volume: 0.16}.Rounded())
}

func TestErrors(t *testing.T) {
	err := NewInvalidTransition("pause", StateStopped)
	assert.True(t, IsInvalidTransition(err))
	assert.False(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "state=Stopped")

	wrapped := NewTransportFailure("publish movie", assert.AnError)
	assert.True(t, IsTransportFailure(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
}

func TestTaskID(t *testing.T) {
	p := Participant{TaskName: "Mobile", ParticipantID: 5012, AgeMonths: 4, TrialNumber: 7}
	date := time.Date(2026, time.March, 9, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "Mobile.2026.03.09.5012.04.007", TaskID(p, date))
}
