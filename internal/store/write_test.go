package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
)

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	run := createTestRun(t, s, "run-1", "2026-01-05T09:30:00.000000")

	require.NoError(t, s.BeginRun(context.Background(), run))

	runs, err := s.ReadRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0])
}

func TestAppend_OrderedBySeqAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createTestRun(t, s, "run-1", "2026-01-05T09:30:00.000000")

	entries := []experiment.EventLogEntry{
		{RunID: "run-1", Seq: 2, Subject: "Fixation", Phase: experiment.PhaseStart, Timestamp: "2026-01-05T09:30:00.000000"},
		{RunID: "run-1", Seq: 1, Subject: experiment.SubjectTask, Phase: experiment.PhaseStart, Timestamp: "2026-01-05T09:30:00.000000"},
		{RunID: "run-1", Seq: 3, Subject: "Fixation", Phase: experiment.PhaseEnd, Timestamp: "2026-01-05T09:30:02.000000"},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}
	require.NoError(t, s.Append(ctx, entries[0]))

	got, err := s.ReadEvents(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, experiment.SubjectTask, got[0].Subject)
	assert.Equal(t, experiment.PhaseEnd, got[2].Phase)
}

func TestAppend_RejectsUnknownRun(t *testing.T) {
	s := createTestStore(t)
	err := s.Append(context.Background(), experiment.EventLogEntry{
		RunID: "missing", Seq: 1, Subject: "Task", Phase: experiment.PhaseStart, Timestamp: "x",
	})
	assert.Error(t, err)
}

func TestEvents_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createTestRun(t, s, "run-1", "2026-01-05T09:30:00.000000")
	require.NoError(t, s.Append(ctx, experiment.EventLogEntry{
		RunID: "run-1", Seq: 1, Subject: "Task", Phase: experiment.PhaseStart, Timestamp: "t",
	}))

	_, err := s.db.Exec(`UPDATE events SET subject = 'Other'`)
	assert.Error(t, err)
	_, err = s.db.Exec(`DELETE FROM events`)
	assert.Error(t, err)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createTestRun(t, s, "run-1", "2026-01-05T09:30:00.000000")

	at := time.Date(2026, 1, 5, 9, 30, 1, 250000000, time.Local)
	require.NoError(t, s.Snapshot(ctx, experiment.Progress{
		RunID: "run-1", ElapsedSeconds: 1.25, RemainingSeconds: 3.75, CurrentStepIndex: 0, At: at,
	}))
	require.NoError(t, s.Snapshot(ctx, experiment.Progress{
		RunID: "run-1", ElapsedSeconds: 2.5, RemainingSeconds: 2.5, CurrentStepIndex: 1, At: at.Add(1250 * time.Millisecond),
	}))

	got, err := s.ReadProgress(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.25, got[0].ElapsedSeconds)
	assert.True(t, at.Equal(got[0].At))
	assert.Equal(t, 1, got[1].CurrentStepIndex)
}

func TestWriteSamples_CountsPerLimb(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createTestRun(t, s, "run-1", "2026-01-05T09:30:00.000000")

	batch := []experiment.Sample{
		experiment.NewSample(experiment.LimbLeftHand, 0.1, 0, 0, 0.01),
		experiment.NewSample(experiment.LimbLeftHand, 0.2, 0, 0, 0.02),
		experiment.NewSample(experiment.LimbRightLeg, 0, 0.3, 0, 0.02),
	}
	require.NoError(t, s.WriteSamples(ctx, "run-1", batch))
	require.NoError(t, s.WriteSamples(ctx, "run-1", nil))

	counts, err := s.CountSamples(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[experiment.Limb]int{
		experiment.LimbLeftHand: 2,
		experiment.LimbRightLeg: 1,
	}, counts)
}
