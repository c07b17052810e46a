package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// Run processes commands until ctx is cancelled. A run still in progress at
// cancellation is torn down before Run returns.
//
// Run must be called exactly once. Control calls made after it returns fail
// with ErrClosed (Stop returns nil).
func (s *Sequencer) Run(ctx context.Context) error {
	defer s.queue.Close(ErrClosed)

	s.logger.Debug("sequencer loop started")
	for {
		if c, ok := s.queue.TryDequeue(); ok {
			s.handle(ctx, c)
			continue
		}

		select {
		case <-ctx.Done():
			if s.run.State != experiment.StateStopped {
				s.teardown(context.WithoutCancel(ctx), "interrupted")
			}
			return ctx.Err()
		case _, ok := <-s.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

func (s *Sequencer) handle(ctx context.Context, c command) {
	if !c.claim() {
		s.logger.Debug("command abandoned by caller", "command", c.kind.String())
		return
	}
	var err error
	switch c.kind {
	case cmdStart:
		err = s.start(ctx)
	case cmdPause:
		err = s.pause(ctx)
	case cmdResume:
		err = s.resume(ctx)
	case cmdStop:
		if s.run.State != experiment.StateStopped {
			s.teardown(ctx, "stopped")
		}
	case cmdStepExpired:
		s.stepExpired(ctx, c)
	case cmdProgress:
		s.progressTick(ctx, c)
	case cmdBarrier:
	default:
		err = fmt.Errorf("sequencer: unknown command %d", c.kind)
	}

	if err != nil {
		s.logger.Debug("command rejected", "command", c.kind.String(), "error", err)
	}
	if c.reply != nil {
		c.reply <- err
	}
}

func (s *Sequencer) now() time.Time {
	return s.timers.Clock().Now()
}

func (s *Sequencer) start(ctx context.Context) error {
	if s.run.State != experiment.StateStopped {
		return experiment.NewInvalidTransition("start", s.run.State)
	}

	steps := append([]experiment.Step(nil), s.cfg.Steps...)
	if err := experiment.ValidateSteps(steps); err != nil {
		return err
	}
	hash, err := experiment.TimelineHash(steps)
	if err != nil {
		return experiment.NewConfigurationError("start", err.Error())
	}

	var total time.Duration
	for _, st := range steps {
		total += st.Duration()
	}

	now := s.now()
	p := s.cfg.Participant
	rec := experiment.RunRecord{
		RunID:                s.ids.Generate(),
		TaskID:               experiment.TaskID(p, now),
		TaskName:             p.TaskName,
		ParticipantID:        p.ParticipantID,
		AgeMonths:            p.AgeMonths,
		TrialNumber:          p.TrialNumber,
		Steps:                steps,
		TotalDurationSeconds: experiment.TotalDuration(steps),
		TimelineHash:         hash,
		StartedAt:            experiment.FormatTimestamp(now),
		Version:              experiment.Version,
	}

	s.mu.Lock()
	s.token++
	s.record = rec
	s.run = experiment.TaskRun{
		RunID:                rec.RunID,
		TaskID:               rec.TaskID,
		ParticipantID:        p.ParticipantID,
		AgeMonths:            p.AgeMonths,
		TrialNumber:          p.TrialNumber,
		Steps:                steps,
		State:                experiment.StateRunning,
		CurrentStepIndex:     0,
		TotalDurationSeconds: rec.TotalDurationSeconds,
		RemainingSeconds:     rec.TotalDurationSeconds,
	}
	s.completed = 0
	s.total = total
	s.lastElapsed = 0
	s.expiryDeferred = false
	s.mu.Unlock()

	s.logger.Info("run started",
		"run_id", rec.RunID,
		"task_id", rec.TaskID,
		"steps", len(steps),
		"total_seconds", rec.TotalDurationSeconds)

	if err := s.deps.Log.BeginRun(ctx, rec); err != nil {
		s.logger.Error("event log begin run failed", "run_id", rec.RunID, "error", err)
	}
	for _, l := range s.listeners {
		l.RunStarted(rec)
	}
	s.warn("acquire audio", s.deps.Sound.Acquire())

	s.logEvent(ctx, experiment.SubjectTask, experiment.PhaseStart)
	for _, limb := range s.cfg.Limbs {
		if err := s.deps.Streams.StartStreaming(limb); err != nil {
			s.logger.Warn("start streaming failed", "limb", limb, "error", err)
		}
	}
	s.armProgress()
	s.enterStep(ctx)
	return nil
}

// enterStep configures actuation and stimuli for the current step, logs its
// start and arms its timer.
func (s *Sequencer) enterStep(ctx context.Context) {
	idx := s.run.CurrentStepIndex
	step := s.run.Steps[idx]

	if step.Description == experiment.StepFixation {
		s.setLimb(experiment.LimbNone)
		s.publishMovie(experiment.MovieCommand{Event: experiment.MovieFixation, Value: s.cfg.FixationSpeed})
	} else {
		s.publishMovie(experiment.MovieCommand{Event: experiment.MovieMobile, Value: 0})
		s.setLimb(step.AssignedLimb)
	}
	if step.BackgroundMusic {
		s.warn("background start", s.deps.Sound.BackgroundStart())
	}

	s.logEvent(ctx, step.Description.String(), experiment.PhaseStart)

	token := s.token
	h, err := s.timers.After(step.Duration(), fmt.Sprintf("step %d %s", step.Index, step.Description), func() {
		s.queue.Enqueue(command{kind: cmdStepExpired, run: token, step: idx})
	})
	if err != nil {
		s.logger.Error("step timer not armed", "step", step.Index, "error", err)
		s.teardown(ctx, "timer failure")
		return
	}

	s.mu.Lock()
	s.stepHandle = h
	s.pausedTotal = 0
	s.mu.Unlock()

	s.logger.Info("step entered",
		"index", step.Index,
		"description", step.Description,
		"limb", step.AssignedLimb,
		"duration_seconds", step.DurationSeconds)
}

func (s *Sequencer) stepExpired(ctx context.Context, c command) {
	if c.run != s.token || s.run.State == experiment.StateStopped || c.step != s.run.CurrentStepIndex {
		s.logger.Debug("stale step timer ignored", "step", c.step)
		return
	}
	if s.run.State == experiment.StatePaused {
		// Fired in the same instant the pause was requested; finish on resume.
		s.expiryDeferred = true
		return
	}
	s.finishStep(ctx)
}

func (s *Sequencer) finishStep(ctx context.Context) {
	idx := s.run.CurrentStepIndex
	step := s.run.Steps[idx]

	s.logEvent(ctx, step.Description.String(), experiment.PhaseEnd)

	s.mu.Lock()
	s.completed += step.Duration()
	s.run.CurrentStepIndex = idx + 1
	s.stepHandle = nil
	s.mu.Unlock()

	s.warn("background stop", s.deps.Sound.BackgroundStop())
	s.warn("end of step cue", s.deps.Sound.EndOfStepCue())

	if idx+1 == len(s.run.Steps) {
		s.snapshotProgress(ctx)
		s.teardown(ctx, "completed")
		return
	}
	s.enterStep(ctx)
}

func (s *Sequencer) pause(ctx context.Context) error {
	if s.run.State != experiment.StateRunning {
		return experiment.NewInvalidTransition("pause", s.run.State)
	}

	now := s.now()
	if s.stepHandle != nil {
		s.stepHandle.Pause()
	}
	s.mu.Lock()
	s.pauseStartedAt = now
	s.run.State = experiment.StatePaused
	s.mu.Unlock()

	s.logEvent(ctx, experiment.SubjectPause, experiment.PhaseStart)
	s.logger.Info("run paused", "step", s.run.CurrentStepIndex+1)
	return nil
}

func (s *Sequencer) resume(ctx context.Context) error {
	if s.run.State != experiment.StatePaused {
		return experiment.NewInvalidTransition("resume", s.run.State)
	}

	span := s.now().Sub(s.pauseStartedAt)
	if s.stepHandle != nil {
		s.stepHandle.Resume()
	}
	s.mu.Lock()
	s.pausedTotal += span
	s.run.State = experiment.StateRunning
	s.mu.Unlock()

	s.logEvent(ctx, experiment.SubjectPause, experiment.PhaseEnd)
	s.logger.Info("run resumed", "paused_for", span, "step_paused_total", s.pausedTotal)

	if s.expiryDeferred {
		s.expiryDeferred = false
		s.finishStep(ctx)
	}
	return nil
}

// teardown returns every collaborator to its idle state and resets the run.
// Only called while not Stopped, so it runs once per run.
func (s *Sequencer) teardown(ctx context.Context, reason string) {
	s.logEvent(ctx, experiment.SubjectTask, experiment.PhaseEnd)

	for _, limb := range s.cfg.Limbs {
		if err := s.deps.Streams.StopStreaming(limb); err != nil {
			s.logger.Warn("stop streaming failed", "limb", limb, "error", err)
		}
	}
	s.setLimb(experiment.LimbNone)
	s.publishMovie(experiment.MovieCommand{Event: experiment.MovieDark, Value: 0})
	s.warn("stop audio", s.deps.Sound.StopAll())
	s.warn("release audio", s.deps.Sound.Release())

	s.mu.Lock()
	if s.stepHandle != nil {
		s.stepHandle.Cancel()
	}
	if s.progressHandle != nil {
		s.progressHandle.Cancel()
	}
	runID := s.run.RunID
	s.token++
	s.run = s.idleView()
	s.stepHandle = nil
	s.progressHandle = nil
	s.completed = 0
	s.total = 0
	s.lastElapsed = 0
	s.pausedTotal = 0
	s.expiryDeferred = false
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.RunStopped(runID)
	}
	s.logger.Info("run stopped", "run_id", runID, "reason", reason)
}

func (s *Sequencer) armProgress() {
	if s.progressEvery <= 0 {
		return
	}
	token := s.token
	h, err := s.timers.After(s.progressEvery, "progress", func() {
		s.queue.Enqueue(command{kind: cmdProgress, run: token})
	})
	if err != nil {
		s.logger.Warn("progress timer not armed", "error", err)
		return
	}
	s.mu.Lock()
	s.progressHandle = h
	s.mu.Unlock()
}

func (s *Sequencer) progressTick(ctx context.Context, c command) {
	if c.run != s.token || s.run.State == experiment.StateStopped {
		return
	}
	s.snapshotProgress(ctx)
	s.armProgress()
}

func (s *Sequencer) snapshotProgress(ctx context.Context) {
	view := s.Snapshot()
	p := experiment.Progress{
		RunID:            view.RunID,
		ElapsedSeconds:   view.ElapsedSeconds,
		RemainingSeconds: view.RemainingSeconds,
		CurrentStepIndex: view.CurrentStepIndex,
		At:               s.now(),
	}
	if err := s.deps.Log.Snapshot(ctx, p); err != nil {
		s.logger.Warn("progress snapshot failed", "run_id", p.RunID, "error", err)
	}
}

func (s *Sequencer) logEvent(ctx context.Context, subject string, phase experiment.Phase) {
	e := experiment.EventLogEntry{
		RunID:     s.run.RunID,
		Seq:       s.seq.Next(),
		Subject:   subject,
		Phase:     phase,
		Timestamp: experiment.FormatTimestamp(s.now()),
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()

	if err := s.deps.Log.Append(ctx, e); err != nil {
		s.logger.Error("event log append failed", "seq", e.Seq, "subject", subject, "error", err)
	}
	if s.marker != nil {
		s.marker.Mark(e)
	}
	s.logger.Debug("event", "seq", e.Seq, "subject", subject, "phase", phase)
}

func (s *Sequencer) setLimb(limb experiment.Limb) {
	if err := s.deps.Actuator.SetActiveLimb(limb); err != nil {
		s.logger.Warn("set active limb failed", "limb", limb, "error", err)
	}
}

func (s *Sequencer) publishMovie(cmd experiment.MovieCommand) {
	if err := s.deps.Movie.PublishMovie(cmd); err != nil {
		s.logger.Debug("movie publish failed", "event", cmd.Event, "value", cmd.Value, "error", err)
	}
}

func (s *Sequencer) warn(op string, err error) {
	if err != nil {
		s.logger.Warn(op+" failed", "error", err)
	}
}
