package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/testutil"
)

func newTestRunCommand(t *testing.T, format string, stdin string) (*RunOptions, func(args ...string) (string, error)) {
	t.Helper()
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: format},
		RunIDs:      testutil.NewFixedRunIDs("run-cli"),
	}
	cmd := NewRunCommandWithOptions(opts)
	cmd.SetIn(strings.NewReader(stdin))
	return opts, func(args ...string) (string, error) {
		return execute(cmd, args...)
	}
}

func TestRun_CompletesTimeline(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "short.yaml")
	dbPath := filepath.Join(dir, "agency.db")
	writeFile(t, cfgPath, shortConfig)

	_, run := newTestRunCommand(t, "json", "status\n")
	out, err := run("--db", dbPath, "--listen", "127.0.0.1:0", "--simulate", "--progress", "0", cfgPath)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-cli", resp.Data.RunID)
	assert.True(t, strings.HasPrefix(resp.Data.TaskID, "Mobile."))
	assert.Equal(t, 4, resp.Data.Events)

	// The log can be read back with the events command.
	out, err = execute(NewEventsCommand(&RootOptions{Format: "text"}), "--db", dbPath, "run-cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-cli")
	for _, want := range []string{"Task", "Connect", "Start", "End"} {
		assert.Contains(t, out, want)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	_, run := newTestRunCommand(t, "text", "")
	out, err := run("--db", filepath.Join(t.TempDir(), "x.db"), "--listen", "127.0.0.1:0", "../config/testdata/bad_order.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E204]")
}

func TestRun_MissingConfig(t *testing.T) {
	_, run := newTestRunCommand(t, "text", "")
	_, err := run("--listen", "127.0.0.1:0", "nope.yaml")
	require.Error(t, err)
	assert.True(t, experiment.IsConfigurationError(err))
}

type fakeRun struct {
	calls []string
	err   error
}

func (f *fakeRun) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeRun) Start(context.Context) error  { return f.record("start") }
func (f *fakeRun) Pause(context.Context) error  { return f.record("pause") }
func (f *fakeRun) Resume(context.Context) error { return f.record("resume") }
func (f *fakeRun) Stop(context.Context) error   { return f.record("stop") }
func (f *fakeRun) Snapshot() experiment.TaskRun {
	return experiment.TaskRun{
		State:            experiment.StateRunning,
		CurrentStepIndex: 1,
		Steps:            make([]experiment.Step, 3),
		ElapsedSeconds:   12.5,
		RemainingSeconds: 30,
	}
}

type fakeActuation struct {
	limb  experiment.Limb
	model experiment.ModelKind
}

func (f *fakeActuation) SetActiveLimb(l experiment.Limb) error {
	f.limb = l
	return nil
}

func (f *fakeActuation) SelectModel(k experiment.ModelKind) error {
	f.model = k
	return nil
}

func TestController_Commands(t *testing.T) {
	run, act, out := &fakeRun{}, &fakeActuation{}, &bytes.Buffer{}
	c := &controller{seq: run, actuation: act, out: out}
	ctx := context.Background()

	for _, line := range []string{"start", "PAUSE", "resume", "stop"} {
		require.NoError(t, c.handle(ctx, line))
	}
	assert.Equal(t, []string{"start", "pause", "resume", "stop"}, run.calls)

	require.NoError(t, c.handle(ctx, "limb right_leg"))
	assert.Equal(t, experiment.LimbRightLeg, act.limb)
	require.NoError(t, c.handle(ctx, "model physical"))
	assert.Equal(t, experiment.ModelPhysical, act.model)

	require.NoError(t, c.handle(ctx, "status"))
	assert.Contains(t, out.String(), "step 1/3 elapsed 12.50 s remaining 30.00 s")
}

func TestController_Errors(t *testing.T) {
	run := &fakeRun{err: experiment.NewInvalidTransition("pause", experiment.StateStopped)}
	c := &controller{seq: run, actuation: &fakeActuation{}, out: &bytes.Buffer{}}
	ctx := context.Background()

	assert.True(t, experiment.IsInvalidTransition(c.handle(ctx, "pause")))
	assert.True(t, experiment.IsConfigurationError(c.handle(ctx, "limb tail")))
	assert.True(t, experiment.IsConfigurationError(c.handle(ctx, "model random")))
	assert.Error(t, c.handle(ctx, "limb"))
	assert.Error(t, c.handle(ctx, "dance"))
	assert.NoError(t, c.handle(ctx, "   "))
}

func TestRunWatcher_NonBlocking(t *testing.T) {
	w := newRunWatcher()
	w.RunStopped("a")
	w.RunStopped("b")
	assert.Equal(t, "a", <-w.C)

	select {
	case id := <-w.C:
		t.Fatalf("unexpected second notification %q", id)
	default:
	}
}

func TestReadLines(t *testing.T) {
	out := make(chan string)
	go readLines(context.Background(), strings.NewReader("pause\n\n  resume  \n"), out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	assert.Equal(t, []string{"pause", "resume"}, got)
}

func TestExitErrorFromRun(t *testing.T) {
	err := WrapExitError(ExitCommandError, "failed to listen", errors.New("address in use"))
	assert.Equal(t, "failed to listen: address in use", err.Error())
}
