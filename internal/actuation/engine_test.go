package actuation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/testutil"
	"github.com/roach88/agency/internal/timer"
)

type movieAt struct {
	at    time.Duration
	value int
}

type fakePublisher struct {
	mu     sync.Mutex
	clock  *testutil.ManualClock
	movies []movieAt
	sounds []experiment.SoundCommand
	err    error
}

func (p *fakePublisher) PublishMovie(cmd experiment.MovieCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.movies = append(p.movies, movieAt{at: p.clock.Now().Sub(testutil.Epoch), value: cmd.Value})
	return p.err
}

func (p *fakePublisher) PublishSound(cmd experiment.SoundCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, cmd)
	return p.err
}

func (p *fakePublisher) movieValues() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.movies))
	for i, m := range p.movies {
		out[i] = m.value
	}
	return out
}

func newTestEngine(t *testing.T, settings Settings) (*Engine, *fakePublisher, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	pub := &fakePublisher{clock: clock}
	sched := timer.New(clock)
	t.Cleanup(sched.Close)

	e, err := New(pub, sched, settings, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, e.SetActiveLimb(experiment.LimbLeftHand))
	return e, pub, clock
}

func sample(limb experiment.Limb, magnitude float64) experiment.Sample {
	return experiment.NewSample(limb, magnitude, 0, 0, 0)
}

func TestThreshold_TriggerPlayAndDeadTime(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())

	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	assert.Equal(t, []int{90}, pub.movieValues())
	assert.False(t, e.State().Triggerable)
	assert.Equal(t, 90.0, e.State().Velocity)

	clock.Advance(650 * time.Millisecond)
	assert.Equal(t, []int{90, 0}, pub.movieValues())
	assert.Equal(t, 650*time.Millisecond, pub.movies[1].at)

	// t=1.0s is inside the dead time
	clock.Advance(350 * time.Millisecond)
	e.OnSample(sample(experiment.LimbLeftHand, 0.9))
	assert.Equal(t, []int{90, 0}, pub.movieValues())

	// dead time ends at t=1.3s
	clock.Advance(400 * time.Millisecond)
	assert.True(t, e.State().Triggerable)
	e.OnSample(sample(experiment.LimbLeftHand, 0.9))
	assert.Equal(t, []int{90, 0, 90}, pub.movieValues())
	assert.Equal(t, 1400*time.Millisecond, pub.movies[2].at)
	assert.Equal(t, 2, e.Triggers())
}

func TestThreshold_AtThresholdDoesNotTrigger(t *testing.T) {
	e, pub, _ := newTestEngine(t, DefaultSettings())
	e.OnSample(sample(experiment.LimbLeftHand, 0.6))
	assert.Empty(t, pub.movieValues())
	assert.Zero(t, e.Triggers())
}

func TestThreshold_RefractoryExclusion(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, rng.Float64()*2))
		clock.Advance(time.Duration(5+rng.Intn(20)) * time.Millisecond)
	}

	var starts []time.Duration
	for _, m := range pub.movies {
		if m.value == 90 {
			starts = append(starts, m.at)
		}
	}
	require.Greater(t, len(starts), 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i]-starts[i-1], 1300*time.Millisecond)
	}
}

func physicalSettings() Settings {
	s := DefaultSettings()
	s.Model = experiment.ModelPhysical
	return s
}

func TestPhysical_ConstantLowMagnitudeStaysBounded(t *testing.T) {
	e, _, _ := newTestEngine(t, physicalSettings())

	prev := e.State().Velocity
	for i := 0; i < 500; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, 0.1))
		v := e.State().Velocity
		assert.GreaterOrEqual(t, v, prev)
		assert.LessOrEqual(t, v, 90.0)
		prev = v
	}
}

func TestPhysical_ClampsAtMaxSpeed(t *testing.T) {
	e, pub, _ := newTestEngine(t, physicalSettings())

	// each sample adds 3000*0.5*0.01 - 300*0.01 = 12
	for i := 0; i < 20; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, 0.5))
	}
	assert.Equal(t, 90.0, e.State().Velocity)
	values := pub.movieValues()
	assert.Equal(t, []int{12, 24, 36, 48, 60, 72, 84, 90, 90}, values[:9])
	for _, v := range values {
		assert.LessOrEqual(t, v, 90)
	}
}

func TestPhysical_SnapsToZeroWhenDecelerating(t *testing.T) {
	e, _, _ := newTestEngine(t, physicalSettings())
	for i := 0; i < 2; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, 0.5))
	}
	require.Equal(t, 24.0, e.State().Velocity)

	// friction alone removes 3 per sample: 21, 18, 15, 12, 9, 6, then 3 < 5 snaps to 0
	for i := 0; i < 6; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, 0))
	}
	assert.Equal(t, 6.0, e.State().Velocity)
	e.OnSample(sample(experiment.LimbLeftHand, 0))
	assert.Zero(t, e.State().Velocity)
}

func TestPhysical_VelocityBoundsRandomStream(t *testing.T) {
	e, _, _ := newTestEngine(t, physicalSettings())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		e.OnSample(sample(experiment.LimbLeftHand, rng.ExpFloat64()))
		v := e.State().Velocity
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 90.0)
	}
}

func TestIntegrate(t *testing.T) {
	cfg := PhysicalSettings{MassCoef: 3000, FrictionCoef: 300, MaxSpeed: 90, DT: 0.01}
	assert.Equal(t, 12.0, Integrate(0, 0.5, cfg))
	assert.Equal(t, 0.0, Integrate(0, 0, cfg))
	assert.Equal(t, 90.0, Integrate(85, 1, cfg))
	// accelerating through the low band is not snapped
	assert.InDelta(t, 3.0, Integrate(0, 0.2, cfg), 1e-9)
}

func TestSoundPairing_ChangeDetection(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())

	e.OnSample(sample(experiment.LimbLeftHand, 0.1))
	e.OnSample(sample(experiment.LimbLeftHand, 0.2))
	require.Equal(t, []experiment.SoundCommand{{Speed: 1.0, Volume: 0.1}}, pub.sounds)

	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	e.OnSample(sample(experiment.LimbLeftHand, 0.9))
	require.Equal(t, []experiment.SoundCommand{
		{Speed: 1.0, Volume: 0.1},
		{Speed: 2.0, Volume: 1.0},
	}, pub.sounds)

	clock.Advance(650 * time.Millisecond)
	assert.Equal(t, []experiment.SoundCommand{
		{Speed: 1.0, Volume: 0.1},
		{Speed: 2.0, Volume: 1.0},
		{Speed: 1.0, Volume: 0.1},
	}, pub.sounds)
	assert.Equal(t, 1.0, e.State().LastSoundSpeed)
	assert.Equal(t, 0.1, e.State().LastSoundVolume)
}

func TestSoundPairing_ComparesAtWirePrecision(t *testing.T) {
	settings := DefaultSettings()
	settings.Model = experiment.ModelPhysical
	settings.Sound = SoundSettings{MobileSpeed: 1.04, MobileVolume: 0.12}
	e, pub, _ := newTestEngine(t, settings)

	for _, m := range []float64{0, 0.5, 0, 0, 0, 0} {
		e.OnSample(sample(experiment.LimbLeftHand, m))
	}

	var frames []string
	for _, s := range pub.sounds {
		frames = append(frames, s.Wire())
	}
	assert.Equal(t, []string{"1.0,0.1"}, frames)
	assert.Equal(t, 1.0, e.State().LastSoundSpeed)
	assert.Equal(t, 0.1, e.State().LastSoundVolume)
}

func TestSoundPairing_RoundsActivePair(t *testing.T) {
	settings := DefaultSettings()
	settings.Sound = SoundSettings{MobileSpeed: 1.96, MobileVolume: 0.74}
	e, pub, _ := newTestEngine(t, settings)

	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	require.Len(t, pub.sounds, 1)
	assert.Equal(t, experiment.SoundCommand{Speed: 2.0, Volume: 0.7}, pub.sounds[0])
	assert.Equal(t, "2.0,0.7", pub.sounds[0].Wire())
}

func TestOnSample_IgnoresOtherLimbs(t *testing.T) {
	e, pub, _ := newTestEngine(t, DefaultSettings())

	e.OnSample(sample(experiment.LimbRightHand, 5))
	e.OnSample(sample(experiment.LimbNone, 5))
	assert.Empty(t, pub.movieValues())
	assert.Empty(t, pub.sounds)

	require.NoError(t, e.SetActiveLimb(experiment.LimbNone))
	e.OnSample(sample(experiment.LimbLeftHand, 5))
	assert.Empty(t, pub.movieValues())
}

func TestOnSample_IgnoresNonFinite(t *testing.T) {
	e, pub, _ := newTestEngine(t, physicalSettings())
	s := sample(experiment.LimbLeftHand, 0)
	s.Magnitude = math.NaN()
	e.OnSample(s)
	assert.Empty(t, pub.movieValues())
	assert.Equal(t, int64(1), e.Ignored())
}

func TestSetActiveLimb_ResetsAndCancelsTimers(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())

	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	require.Equal(t, []int{90}, pub.movieValues())

	require.NoError(t, e.SetActiveLimb(experiment.LimbRightHand))
	st := e.State()
	assert.True(t, st.Triggerable)
	assert.Zero(t, st.Velocity)

	clock.Advance(5 * time.Second)
	assert.Equal(t, []int{90}, pub.movieValues(), "stale stop_movie must not fire")

	e.OnSample(sample(experiment.LimbRightHand, 0.8))
	assert.Equal(t, []int{90, 90}, pub.movieValues())
}

func TestSetActiveLimb_SameLimbKeepsState(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultSettings())
	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	require.NoError(t, e.SetActiveLimb(experiment.LimbLeftHand))
	assert.False(t, e.State().Triggerable)
}

func TestSelectModel(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())
	e.OnSample(sample(experiment.LimbLeftHand, 0.8))

	require.NoError(t, e.SelectModel(experiment.ModelPhysical))
	assert.Equal(t, experiment.ModelPhysical, e.Model())
	assert.Zero(t, e.State().Velocity)

	clock.Advance(time.Second)
	assert.Equal(t, []int{90}, pub.movieValues())

	err := e.SelectModel(experiment.ModelKind(99))
	require.Error(t, err)
	assert.True(t, experiment.IsConfigurationError(err))
	assert.Equal(t, experiment.ModelPhysical, e.Model())
}

func TestSetActiveLimb_Unknown(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultSettings())
	err := e.SetActiveLimb(experiment.Limb(42))
	assert.True(t, experiment.IsConfigurationError(err))
	assert.Equal(t, experiment.LimbLeftHand, e.ActiveLimb())
}

func TestPublishFailuresDoNotStopActuation(t *testing.T) {
	e, pub, clock := newTestEngine(t, DefaultSettings())
	pub.err = errors.New("no subscribers")

	e.OnSample(sample(experiment.LimbLeftHand, 0.8))
	clock.Advance(650 * time.Millisecond)
	assert.Equal(t, []int{90, 0}, pub.movieValues())
	assert.Equal(t, 1.0, e.State().LastSoundSpeed)
}

func TestConsume(t *testing.T) {
	e, pub, _ := newTestEngine(t, physicalSettings())

	ch := make(chan experiment.Sample, 4)
	ch <- sample(experiment.LimbLeftHand, 0.5)
	ch <- sample(experiment.LimbLeftHand, 0.5)
	close(ch)

	require.NoError(t, e.Consume(context.Background(), ch))
	assert.Equal(t, []int{12, 24}, pub.movieValues())
}

func TestConsume_ContextCancelled(t *testing.T) {
	e, _, _ := newTestEngine(t, physicalSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Consume(ctx, make(chan experiment.Sample))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	mutate := map[string]func(*Settings){
		"model":        func(s *Settings) { s.Model = 0 },
		"threshold":    func(s *Settings) { s.Threshold.AccelerationThreshold = -1 },
		"play time":    func(s *Settings) { s.Threshold.PlayTime = 0 },
		"max speed":    func(s *Settings) { s.Threshold.MaxSpeed = 0 },
		"dt":           func(s *Settings) { s.Physical.DT = 0 },
		"friction":     func(s *Settings) { s.Physical.FrictionCoef = -3 },
		"sound speed":  func(s *Settings) { s.Sound.MobileSpeed = 0 },
		"sound volume": func(s *Settings) { s.Sound.MobileVolume = -0.1 },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			fn(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, experiment.IsConfigurationError(err))
		})
	}
}
