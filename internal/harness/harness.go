package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/agency/internal/actuation"
	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/sensor"
	"github.com/roach88/agency/internal/sequencer"
	"github.com/roach88/agency/internal/stimulus"
	"github.com/roach88/agency/internal/store"
	"github.com/roach88/agency/internal/testutil"
	"github.com/roach88/agency/internal/timer"
)

// Harness wires one scenario's components on a manual clock.
type Harness struct {
	clock   *testutil.ManualClock
	timers  *timer.Scheduler
	store   *store.Store
	bus     *stimulus.Recorder
	engine  *actuation.Engine
	router  *sensor.Router
	samples *store.SampleRecorder
	seq     *sequencer.Sequencer
	logger  *slog.Logger
	runs    []string
}

// Run executes a scenario and returns its result.
//
// Each scenario runs in a fresh in-memory database. An error is returned
// only when the scenario could not be set up; action and assertion failures
// are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	exp := scenario.Config()
	if exp == nil {
		return nil, fmt.Errorf("scenario %q was not parsed", scenario.Name)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	settings, err := exp.ActuationSettings()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewManualClock(testutil.Epoch)
	timers := timer.New(clock)
	defer timers.Close()

	rec := stimulus.NewRecorder(clock)
	bus := stimulus.NewBus(logger, rec)
	eng, err := actuation.New(bus, timers, settings, actuation.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	samples := store.NewSampleRecorder(st, 0, logger)
	h := &Harness{
		clock:   clock,
		timers:  timers,
		store:   st,
		bus:     rec,
		engine:  eng,
		router:  sensor.NewRouter(1, logger, samples),
		samples: samples,
		logger:  logger,
	}
	h.seq = sequencer.New(
		sequencer.Config{
			Participant:   exp.Task,
			Steps:         exp.Steps,
			Limbs:         exp.Sensors.Limbs,
			FixationSpeed: exp.FixationSpeed(sequencer.DefaultFixationSpeed),
		},
		sequencer.Deps{
			Timers:   timers,
			Actuator: eng,
			Movie:    bus,
			Sound:    stimulus.NewAudio(bus),
			Log:      st,
		},
		sequencer.WithRunIDGenerator(testutil.NewFixedRunIDs(scenario.RunIDs...)),
		sequencer.WithListener(samples),
		sequencer.WithListener(h),
		sequencer.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.seq.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	result := NewResult()
	for i, a := range scenario.Script {
		if err := h.perform(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("script[%d] %s: %v", i, a.Action, err))
		}
	}
	if err := h.seq.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// RunStarted records the run so its events can be read back.
func (h *Harness) RunStarted(run experiment.RunRecord) {
	h.runs = append(h.runs, run.RunID)
}

// RunStopped is part of sequencer.Listener.
func (h *Harness) RunStopped(string) {}

func (h *Harness) perform(ctx context.Context, a Action) error {
	if a.At != nil {
		target := testutil.Epoch.Add(experiment.SecondsToDuration(*a.At))
		if wait := target.Sub(h.clock.Now()); wait > 0 {
			h.advance(wait)
		}
	}

	switch a.Action {
	case ActionStart:
		return expect(h.seq.Start(ctx), a.ExpectError)
	case ActionPause:
		return expect(h.seq.Pause(ctx), a.ExpectError)
	case ActionResume:
		return expect(h.seq.Resume(ctx), a.ExpectError)
	case ActionStop:
		return expect(h.seq.Stop(ctx), a.ExpectError)
	case ActionAdvance:
		h.advance(experiment.SecondsToDuration(a.Seconds))
		return nil
	case ActionSample:
		limb, err := experiment.ParseLimb(a.Limb)
		if err != nil {
			return err
		}
		x, y, z := a.X, a.Y, a.Z
		if a.Magnitude != nil {
			x, y, z = *a.Magnitude, 0, 0
		}
		now := h.clock.Now().Sub(testutil.Epoch).Seconds()
		h.router.Deliver(experiment.NewSample(limb, x, y, z, now))
		// Drain synchronously so actuation sees the sample at this instant.
		h.engine.OnSample(<-h.router.Samples())
		return nil
	case ActionLimb:
		limb, err := experiment.ParseLimb(a.Limb)
		if err != nil {
			return err
		}
		return expect(h.engine.SetActiveLimb(limb), a.ExpectError)
	case ActionModel:
		kind, err := experiment.ParseModelKind(a.Model)
		if err != nil {
			return expect(err, a.ExpectError)
		}
		return expect(h.engine.SelectModel(kind), a.ExpectError)
	}
	return fmt.Errorf("unknown action %q", a.Action)
}

func (h *Harness) advance(d time.Duration) {
	testutil.Drive(h.clock, h.timers, d, func() {
		_ = h.seq.Sync(context.Background())
	})
}

// expect checks err against the expected error code ("" means success).
func expect(err error, code string) error {
	if code == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected %s error, got success", code)
	}
	var got string
	switch {
	case experiment.IsInvalidTransition(err):
		got = string(experiment.ErrCodeInvalidTransition)
	case experiment.IsConfigurationError(err):
		got = string(experiment.ErrCodeConfiguration)
	case experiment.IsTransportFailure(err):
		got = string(experiment.ErrCodeTransportFailure)
	}
	if got != code {
		return fmt.Errorf("expected %s error, got %v", code, err)
	}
	return nil
}

// collect reads the event store and bus recorder into the result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	if err := h.samples.Flush(ctx); err != nil {
		return fmt.Errorf("flush samples: %w", err)
	}
	for _, runID := range h.runs {
		events, err := h.store.ReadEvents(ctx, runID)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		for _, e := range events {
			at, err := time.ParseInLocation(experiment.TimestampLayout, e.Timestamp, testutil.Epoch.Location())
			if err != nil {
				return fmt.Errorf("event %d timestamp: %w", e.Seq, err)
			}
			result.Trace = append(result.Trace, TraceEvent{
				AtMillis: at.Sub(testutil.Epoch).Milliseconds(),
				Kind:     KindEvent,
				Seq:      e.Seq,
				Subject:  e.Subject,
				Phase:    e.Phase,
			})
		}

		counts, err := h.store.CountSamples(ctx, runID)
		if err != nil {
			return fmt.Errorf("count samples: %w", err)
		}
		for limb, n := range counts {
			result.Samples[limb] += n
		}
	}

	for _, m := range h.bus.Messages() {
		result.Trace = append(result.Trace, TraceEvent{
			AtMillis: m.At.Sub(testutil.Epoch).Milliseconds(),
			Kind:     string(m.Channel),
			Payload:  string(m.Payload),
		})
	}
	// Stable: lifecycle entries before frames at the same instant, each in
	// its own recorded order.
	sort.SliceStable(result.Trace, func(i, j int) bool {
		return result.Trace[i].AtMillis < result.Trace[j].AtMillis
	})

	result.Movies = h.bus.Movies()
	result.Sounds = h.bus.Sounds()
	result.Final = h.seq.Snapshot()
	return nil
}
