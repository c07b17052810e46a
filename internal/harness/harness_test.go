package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Pass(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGolden(t *testing.T) {
	for _, name := range []string{"threshold_trigger", "pause_resume"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "threshold_trigger")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Canonical(s.Name, first)
	require.NoError(t, err)
	b, err := Canonical(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_SamplesPerLimb(t *testing.T) {
	result, err := Run(loadTestScenario(t, "physical_stream"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Samples[experiment.LimbLeftHand])
	assert.Equal(t, 1, result.Samples[experiment.LimbRightHand])
	assert.Zero(t, result.Samples[experiment.LimbLeftLeg])
}

func TestRun_FinalView(t *testing.T) {
	result, err := Run(loadTestScenario(t, "pause_resume"))
	require.NoError(t, err)

	assert.Equal(t, experiment.StateStopped, result.Final.State)
	assert.Equal(t, 0, result.Final.CurrentStepIndex)
}

func TestRun_ScriptFailuresAreReported(t *testing.T) {
	s, err := ParseScenario("inline.yaml", []byte(`
name: wrong_expectation
experiment:
  task: { name: Mobile, participant: 1, age_months: 4, trial: 1 }
  steps:
    - { index: 1, description: Connect, duration_seconds: 1, assigned_limb: left_hand }
script:
  - { action: pause }
  - { action: start, expect_error: INVALID_TRANSITION }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "script[0] pause")
	assert.Contains(t, result.Errors[1], "expected INVALID_TRANSITION error, got success")
}

func TestRun_FailedAssertionCarriesTrace(t *testing.T) {
	s := loadTestScenario(t, "pause_resume")
	s.Assertions = []Assertion{{Type: AssertEventCount, Event: "Pause Start", Count: 2}}

	result, err := Run(s)
	require.NoError(t, err)

	require.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: event_count")
	assert.Contains(t, result.Errors[0], "Full trace:")
	assert.Contains(t, result.Errors[0], "Pause Start")
}

func TestExpect(t *testing.T) {
	invalid := experiment.NewInvalidTransition("pause", experiment.StateStopped)

	assert.NoError(t, expect(nil, ""))
	assert.Error(t, expect(invalid, ""))
	assert.NoError(t, expect(invalid, "INVALID_TRANSITION"))
	assert.Error(t, expect(invalid, "CONFIGURATION"))
	assert.Error(t, expect(nil, "INVALID_TRANSITION"))
}
