package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/agency/internal/experiment"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a run with a two-step timeline.
func createTestRun(t *testing.T, s *Store, runID, startedAt string) experiment.RunRecord {
	t.Helper()
	run := experiment.RunRecord{
		RunID:         runID,
		TaskID:        "Mobile.2026.01.05.5001.04.001",
		TaskName:      "Mobile",
		ParticipantID: 5001,
		AgeMonths:     4,
		TrialNumber:   1,
		Steps: []experiment.Step{
			{Index: 1, Description: experiment.StepFixation, DurationSeconds: 2, AssignedLimb: experiment.LimbNone},
			{Index: 2, Description: experiment.StepConnect, DurationSeconds: 3, AssignedLimb: experiment.LimbLeftHand},
		},
		TotalDurationSeconds: 5,
		TimelineHash:         "hash-" + runID,
		StartedAt:            startedAt,
		Version:              "test",
	}
	if err := s.BeginRun(context.Background(), run); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	return run
}
