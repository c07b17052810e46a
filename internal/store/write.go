package store

import (
	"context"
	"fmt"

	"github.com/roach88/agency/internal/experiment"
)

// BeginRun inserts the run row. Uses ON CONFLICT(id) DO NOTHING so a retried
// start does not fail.
func (s *Store) BeginRun(ctx context.Context, run experiment.RunRecord) error {
	stepsJSON, err := marshalSteps(run.Steps)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, task_id, task_name, participant_id, age_months, trial_number,
		 steps, total_duration_seconds, timeline_hash, started_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.RunID,
		run.TaskID,
		run.TaskName,
		run.ParticipantID,
		run.AgeMonths,
		run.TrialNumber,
		stepsJSON,
		run.TotalDurationSeconds,
		run.TimelineHash,
		run.StartedAt,
		run.Version,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// Append writes one event-log entry. Duplicate (run_id, seq) pairs are
// silently ignored so a replayed append is idempotent.
//
// Note: the run referenced by RunID must exist (foreign key constraint).
func (s *Store) Append(ctx context.Context, e experiment.EventLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, subject, phase, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		e.RunID,
		e.Seq,
		e.Subject,
		string(e.Phase),
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Snapshot writes one progress row.
func (s *Store) Snapshot(ctx context.Context, p experiment.Progress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (run_id, elapsed_seconds, remaining_seconds, current_step_index, at)
		VALUES (?, ?, ?, ?, ?)
	`,
		p.RunID,
		p.ElapsedSeconds,
		p.RemainingSeconds,
		p.CurrentStepIndex,
		experiment.FormatTimestamp(p.At),
	)
	if err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// WriteSamples inserts a batch of raw samples for a run in one transaction.
func (s *Store) WriteSamples(ctx context.Context, runID string, samples []experiment.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write samples: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (run_id, limb, x, y, z, magnitude, t)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write samples: prepare: %w", err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx,
			runID, smp.Limb.String(), smp.X, smp.Y, smp.Z, smp.Magnitude, smp.Timestamp,
		); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write samples: commit: %w", err)
	}
	return nil
}
