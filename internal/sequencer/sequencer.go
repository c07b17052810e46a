package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/timer"
)

// ErrClosed is returned by control calls once Run has exited.
var ErrClosed = errors.New("sequencer: closed")

// Actuator selects which limb drives actuation. Implemented by actuation.Engine.
type Actuator interface {
	SetActiveLimb(limb experiment.Limb) error
}

// MoviePublisher announces stimulus modes. Implemented by stimulus.Bus.
type MoviePublisher interface {
	PublishMovie(cmd experiment.MovieCommand) error
}

// Sound is the run-scoped audio resource. Implemented by stimulus.Audio.
type Sound interface {
	Acquire() error
	Release() error
	BackgroundStart() error
	BackgroundStop() error
	EndOfStepCue() error
	StopAll() error
}

// Streams turns raw sample streaming on and off per limb. Implemented by
// sensor.Bridge and sensor.Simulator.
type Streams interface {
	StartStreaming(limb experiment.Limb) error
	StopStreaming(limb experiment.Limb) error
}

// EventLog persists runs, lifecycle entries and progress. Implemented by store.Store.
type EventLog interface {
	BeginRun(ctx context.Context, run experiment.RunRecord) error
	Append(ctx context.Context, e experiment.EventLogEntry) error
	Snapshot(ctx context.Context, p experiment.Progress) error
}

// Marker receives every lifecycle entry as it is logged. Implemented by marker.Marker.
type Marker interface {
	Mark(e experiment.EventLogEntry)
}

// Listener is told when runs begin and end. store.SampleRecorder uses it to
// scope sample recording to a run.
type Listener interface {
	RunStarted(run experiment.RunRecord)
	RunStopped(runID string)
}

// Config is the timeline and identity of the runs this sequencer drives.
type Config struct {
	Participant experiment.Participant
	Steps       []experiment.Step

	// Limbs to stream during a run. Empty means experiment.AllLimbs.
	Limbs []experiment.Limb

	// FixationSpeed is the movie value announced on fixation steps.
	FixationSpeed int
}

// DefaultFixationSpeed is the playback speed of the fixation movie.
const DefaultFixationSpeed = 60

// Deps are the collaborators a run drives. Nil fields are replaced with no-ops,
// except Timers which defaults to a wall-clock scheduler.
type Deps struct {
	Timers   *timer.Scheduler
	Actuator Actuator
	Movie    MoviePublisher
	Sound    Sound
	Streams  Streams
	Log      EventLog
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithRunIDGenerator sets the run ID generator (default UUIDv7Generator).
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(s *Sequencer) {
		s.ids = g
	}
}

// WithProgressInterval enables periodic progress snapshots to the event log.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Sequencer) {
		s.progressEvery = d
	}
}

// WithMarker forwards every lifecycle entry to m.
func WithMarker(m Marker) Option {
	return func(s *Sequencer) {
		s.marker = m
	}
}

// WithListener registers l for run start and stop notifications.
func WithListener(l Listener) Option {
	return func(s *Sequencer) {
		s.listeners = append(s.listeners, l)
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = l
	}
}

// WithClock sets the sequence clock, for appending to an existing log.
func WithClock(c *Clock) Option {
	return func(s *Sequencer) {
		s.seq = c
	}
}

// Sequencer drives a timeline of steps through Running, Paused and Stopped.
//
// All transitions happen on the goroutine executing Run. Control methods
// enqueue a command and wait for its result, so they may be called from any
// goroutine; Snapshot and Events only read.
type Sequencer struct {
	cfg    Config
	deps   Deps
	timers *timer.Scheduler
	queue  *commandQueue
	seq    *Clock
	ids    RunIDGenerator
	logger *slog.Logger

	marker        Marker
	listeners     []Listener
	progressEvery time.Duration

	// Loop-owned run state. mu guards it for readers; only the loop writes.
	mu             sync.RWMutex
	run            experiment.TaskRun
	record         experiment.RunRecord
	token          uint64
	stepHandle     *timer.Handle
	progressHandle *timer.Handle
	completed      time.Duration
	total          time.Duration
	pauseStartedAt time.Time
	pausedTotal    time.Duration
	expiryDeferred bool
	lastElapsed    time.Duration
	events         []experiment.EventLogEntry
}

// New creates a stopped sequencer. The timeline is validated at Start, not
// here, so a sequencer can be built before its configuration is final.
func New(cfg Config, deps Deps, opts ...Option) *Sequencer {
	if len(cfg.Limbs) == 0 {
		cfg.Limbs = experiment.AllLimbs
	}
	if cfg.FixationSpeed == 0 {
		cfg.FixationSpeed = DefaultFixationSpeed
	}
	if deps.Timers == nil {
		deps.Timers = timer.New(nil)
	}
	if deps.Actuator == nil {
		deps.Actuator = noopActuator{}
	}
	if deps.Movie == nil {
		deps.Movie = noopMovie{}
	}
	if deps.Sound == nil {
		deps.Sound = noopSound{}
	}
	if deps.Streams == nil {
		deps.Streams = noopStreams{}
	}
	if deps.Log == nil {
		deps.Log = noopLog{}
	}

	s := &Sequencer{
		cfg:    cfg,
		deps:   deps,
		timers: deps.Timers,
		queue:  newCommandQueue(),
		seq:    NewClock(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.run = s.idleView()
	return s
}

// Start begins a run from the first step. It fails with INVALID_TRANSITION
// unless Stopped and with CONFIGURATION if the timeline is invalid; neither
// changes any state.
//
// Control calls are served by Run. Made before Run starts they wait for it
// until ctx ends, and a call abandoned that way is never applied.
func (s *Sequencer) Start(ctx context.Context) error {
	return s.call(ctx, cmdStart)
}

// Pause freezes the current step. Valid only while Running. Like Start, it
// waits for Run at most until ctx ends.
func (s *Sequencer) Pause(ctx context.Context) error {
	return s.call(ctx, cmdPause)
}

// Resume continues a paused step with its remaining time intact. Valid only
// while Paused. Like Start, it waits for Run at most until ctx ends.
func (s *Sequencer) Resume(ctx context.Context) error {
	return s.call(ctx, cmdResume)
}

// Stop tears the run down from any state. Stopping a stopped sequencer, or
// one whose loop has exited, is a no-op. Like Start, it waits for Run at
// most until ctx ends.
func (s *Sequencer) Stop(ctx context.Context) error {
	err := s.call(ctx, cmdStop)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Sync returns once every command enqueued before it has been processed.
// Timer expiries are commands too, so after a timer fires Sync waits for
// the resulting transition.
func (s *Sequencer) Sync(ctx context.Context) error {
	return s.call(ctx, cmdBarrier)
}

// call hands a control command to the loop and waits for its answer.
// Commands queue until Run picks them up, so a call made before Run starts
// waits for it, bounded by ctx. A call that gives up through ctx before the
// loop claims its command has no effect; once claimed, the answer is awaited
// even if ctx ends, since the loop replies without blocking.
func (s *Sequencer) call(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)
	claimed := new(atomic.Bool)
	if !s.queue.Enqueue(command{kind: kind, reply: reply, claimed: claimed}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-reply
	}
}

// Snapshot returns the live run view. Elapsed time is derived from the step
// timer's remaining time and never decreases within a run.
func (s *Sequencer) Snapshot() experiment.TaskRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.run
	view.Steps = append([]experiment.Step(nil), s.run.Steps...)
	if view.State == experiment.StateStopped {
		return view
	}
	elapsed := s.elapsedLocked()
	view.ElapsedSeconds = elapsed.Seconds()
	view.RemainingSeconds = view.TotalDurationSeconds - view.ElapsedSeconds
	return view
}

// State returns the current run state.
func (s *Sequencer) State() experiment.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.State
}

// Events returns every lifecycle entry logged by this sequencer, in seq order.
func (s *Sequencer) Events() []experiment.EventLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]experiment.EventLogEntry(nil), s.events...)
}

// Record returns the identity of the current or most recent run.
func (s *Sequencer) Record() experiment.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// elapsedLocked computes completed + time spent in the current step, clamped
// to [lastElapsed, total]. Caller holds s.mu for writing.
func (s *Sequencer) elapsedLocked() time.Duration {
	elapsed := s.completed
	idx := s.run.CurrentStepIndex
	if s.stepHandle != nil && idx < len(s.run.Steps) {
		inStep := s.run.Steps[idx].Duration() - s.stepHandle.Remaining()
		if inStep > 0 {
			elapsed += inStep
		}
	}
	if elapsed > s.total {
		elapsed = s.total
	}
	if elapsed < s.lastElapsed {
		elapsed = s.lastElapsed
	}
	s.lastElapsed = elapsed
	return elapsed
}

func (s *Sequencer) idleView() experiment.TaskRun {
	p := s.cfg.Participant
	return experiment.TaskRun{
		ParticipantID: p.ParticipantID,
		AgeMonths:     p.AgeMonths,
		TrialNumber:   p.TrialNumber,
		State:         experiment.StateStopped,
	}
}

type noopActuator struct{}

func (noopActuator) SetActiveLimb(experiment.Limb) error { return nil }

type noopMovie struct{}

func (noopMovie) PublishMovie(experiment.MovieCommand) error { return nil }

type noopSound struct{}

func (noopSound) Acquire() error         { return nil }
func (noopSound) Release() error         { return nil }
func (noopSound) BackgroundStart() error { return nil }
func (noopSound) BackgroundStop() error  { return nil }
func (noopSound) EndOfStepCue() error    { return nil }
func (noopSound) StopAll() error         { return nil }

type noopStreams struct{}

func (noopStreams) StartStreaming(experiment.Limb) error { return nil }
func (noopStreams) StopStreaming(experiment.Limb) error  { return nil }

type noopLog struct{}

func (noopLog) BeginRun(context.Context, experiment.RunRecord) error   { return nil }
func (noopLog) Append(context.Context, experiment.EventLogEntry) error { return nil }
func (noopLog) Snapshot(context.Context, experiment.Progress) error    { return nil }
