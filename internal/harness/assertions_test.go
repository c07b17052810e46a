package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
)

func lifecycleEvent(at int64, seq int64, subject string, phase experiment.Phase) TraceEvent {
	return TraceEvent{AtMillis: at, Kind: KindEvent, Seq: seq, Subject: subject, Phase: phase}
}

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		lifecycleEvent(0, 1, "Task", experiment.PhaseStart),
		lifecycleEvent(0, 2, "Connect", experiment.PhaseStart),
		{AtMillis: 0, Kind: KindMovie, Payload: `{"event":"mobile_movie","value":0}`},
		lifecycleEvent(1000, 3, "Pause", experiment.PhaseStart),
		lifecycleEvent(2000, 4, "Pause", experiment.PhaseEnd),
		lifecycleEvent(3000, 5, "Connect", experiment.PhaseEnd),
		lifecycleEvent(3000, 6, "Task", experiment.PhaseEnd),
	}
}

func TestAssertEventOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventOrder(trace, Assertion{Events: []string{"Task Start", "Task End"}}))
	assert.NoError(t, assertEventOrder(trace, Assertion{Events: []string{"Connect Start", "Pause Start", "Connect End"}}))

	err := assertEventOrder(trace, Assertion{Events: []string{"Task End", "Task Start"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertEventOrder, ae.Type)
}

func TestAssertEventCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventCount(trace, Assertion{Event: "Pause Start", Count: 1}))
	assert.NoError(t, assertEventCount(trace, Assertion{Event: "Fixation Start", Count: 0}))
	assert.Error(t, assertEventCount(trace, Assertion{Event: "Task End", Count: 2}))
}

func TestAssertFinalState(t *testing.T) {
	result := NewResult()
	result.Final = experiment.TaskRun{State: experiment.StatePaused, CurrentStepIndex: 1}

	one, two := 1, 2
	assert.NoError(t, assertFinalState(result, Assertion{State: "paused"}))
	assert.NoError(t, assertFinalState(result, Assertion{State: "Paused", StepIndex: &one}))
	assert.Error(t, assertFinalState(result, Assertion{State: "Running"}))
	assert.Error(t, assertFinalState(result, Assertion{State: "Paused", StepIndex: &two}))
}

func TestMovieAndSoundValues(t *testing.T) {
	movies := []experiment.MovieCommand{
		{Event: experiment.MovieFixation, Value: 60},
		{Event: experiment.MovieDark, Value: 0},
	}
	assert.Equal(t, []string{"fixation_movie:60", "dark:0"}, movieValues(movies))

	sounds := []experiment.SoundCommand{{Speed: 1.0, Volume: 0.1}, {Speed: 2.0, Volume: 1.0}}
	assert.Equal(t, []string{"1.0,0.1", "2.0,1.0"}, soundValues(sounds))
}

func TestAssertSampleCount(t *testing.T) {
	result := NewResult()
	result.Samples[experiment.LimbLeftLeg] = 7

	assert.NoError(t, assertSampleCount(result, Assertion{Limb: "left_leg", Count: 7}))
	assert.Error(t, assertSampleCount(result, Assertion{Limb: "left_leg", Count: 6}))
	assert.Error(t, assertSampleCount(result, Assertion{Limb: "tail", Count: 0}))
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.Final = experiment.TaskRun{State: experiment.StateStopped}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertEventOrder, Events: []string{"Task Start", "Task End"}},
		{Type: AssertFinalState, State: "Stopped"},
		{Type: AssertEventCount, Event: "Pause End", Count: 3},
		{Type: "bogus"},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "Expected: 3")
	assert.Contains(t, failures[1], `unknown assertion type "bogus"`)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "1",
		Actual:   "0",
		Trace:    sampleTrace(),
	}
	msg := err.Error()
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "Connect Start")
	assert.Contains(t, msg, `{"event":"mobile_movie","value":0}`)
}
