package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

const runColumns = `id, task_id, task_name, participant_id, age_months, trial_number,
	steps, total_duration_seconds, timeline_hash, started_at, version`

// ReadRun returns a single run. Returns ErrRunNotFound if absent.
func (s *Store) ReadRun(ctx context.Context, runID string) (experiment.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return experiment.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ReadRuns returns every run ordered by start time, then id.
//
// Returns an empty slice (not nil) if the store has no runs.
func (s *Store) ReadRuns(ctx context.Context) ([]experiment.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []experiment.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (experiment.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return experiment.RunRecord{}, ErrRunNotFound
	}
	return run, err
}

// ReadEvents returns a run's event log in seq order.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]experiment.EventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, subject, phase, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []experiment.EventLogEntry{}
	for rows.Next() {
		var e experiment.EventLogEntry
		var phase string
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Subject, &phase, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = experiment.Phase(phase)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ReadProgress returns a run's progress snapshots in write order.
func (s *Store) ReadProgress(ctx context.Context, runID string) ([]experiment.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, elapsed_seconds, remaining_seconds, current_step_index, at
		FROM progress
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	out := []experiment.Progress{}
	for rows.Next() {
		var p experiment.Progress
		var at string
		if err := rows.Scan(&p.RunID, &p.ElapsedSeconds, &p.RemainingSeconds, &p.CurrentStepIndex, &at); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		if p.At, err = time.ParseInLocation(experiment.TimestampLayout, at, time.Local); err != nil {
			return nil, fmt.Errorf("parse progress time %q: %w", at, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// CountSamples returns the number of stored samples per limb for a run.
func (s *Store) CountSamples(ctx context.Context, runID string) (map[experiment.Limb]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT limb, COUNT(*)
		FROM samples
		WHERE run_id = ?
		GROUP BY limb
		ORDER BY limb
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}
	defer rows.Close()

	out := make(map[experiment.Limb]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan sample count: %w", err)
		}
		limb, err := experiment.ParseLimb(name)
		if err != nil {
			return nil, fmt.Errorf("sample count: %w", err)
		}
		out[limb] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample counts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (experiment.RunRecord, error) {
	var run experiment.RunRecord
	var stepsJSON string
	if err := row.Scan(
		&run.RunID, &run.TaskID, &run.TaskName, &run.ParticipantID, &run.AgeMonths, &run.TrialNumber,
		&stepsJSON, &run.TotalDurationSeconds, &run.TimelineHash, &run.StartedAt, &run.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	steps, err := unmarshalSteps(stepsJSON)
	if err != nil {
		return run, err
	}
	run.Steps = steps
	return run, nil
}
