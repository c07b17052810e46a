package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

func TestTest_AllScenariosPass(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--golden", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ threshold_trigger")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_JSONAndFilter(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "json"}), scenariosDir, "--golden", goldenDir, "--filter", "pause_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "pause_resume", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)
}

func TestTest_GoldenMismatchAndUpdate(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join(scenariosDir, "pause_resume.yaml"))
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "pause_resume.yaml"), string(src))
	writeFile(t, filepath.Join(dir, "golden", "pause_resume.golden"), "stale\n")

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")

	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	want, err := os.ReadFile(filepath.Join(goldenDir, "pause_resume.golden"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "golden", "pause_resume.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), `
name: bad
experiment:
  task: { name: Mobile, participant: 1, age_months: 4, trial: 1 }
  steps:
    - { index: 1, description: Connect, duration_seconds: 1, assigned_limb: left_hand }
script:
  - { action: start }
  - { action: advance, seconds: 2 }
assertions:
  - { type: event_count, event: "Task End", count: 2 }
`)
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: [")

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "2 failed, 2 total")
}

func TestTest_MissingDir(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), "no/such/dir")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_Empty(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
