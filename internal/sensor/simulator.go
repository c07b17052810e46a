package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/roach88/agency/internal/experiment"
)

// Simulator produces synthetic acceleration for limbs that are streaming,
// standing in for the BLE bridge when no hardware is attached.
//
// Samples are linear acceleration with gravity removed. Each limb idles near
// 0 g with small noise and now and then emits a short burst, as a kick would.
type Simulator struct {
	router *Router
	rateHz float64

	mu        sync.Mutex
	rng       *rand.Rand
	streaming map[experiment.Limb]bool
	burst     map[experiment.Limb]int
	start     time.Time
}

// NewSimulator creates a simulator delivering at rateHz per limb.
func NewSimulator(router *Router, rateHz float64, seed int64) *Simulator {
	if rateHz <= 0 {
		rateHz = 100
	}
	return &Simulator{
		router:    router,
		rateHz:    rateHz,
		rng:       rand.New(rand.NewSource(seed)),
		streaming: make(map[experiment.Limb]bool),
		burst:     make(map[experiment.Limb]int),
	}
}

func (s *Simulator) StartStreaming(limb experiment.Limb) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming[limb] = true
	return nil
}

func (s *Simulator) StopStreaming(limb experiment.Limb) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streaming, limb)
	return nil
}

// Run emits samples until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.rateHz))
	defer ticker.Stop()

	s.mu.Lock()
	s.start = time.Now()
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, sample := range s.Tick(now) {
				s.router.Deliver(sample)
			}
		}
	}
}

// Tick generates one sample per streaming limb, in limb order.
func (s *Simulator) Tick(now time.Time) []experiment.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now.Sub(s.start).Seconds()
	var out []experiment.Sample
	for _, limb := range experiment.AllLimbs {
		if !s.streaming[limb] {
			continue
		}
		if s.burst[limb] == 0 && s.rng.Float64() < 0.01 {
			s.burst[limb] = 1 + s.rng.Intn(int(math.Max(1, s.rateHz/5)))
		}
		amp := 0.05
		if s.burst[limb] > 0 {
			amp = 0.8
			s.burst[limb]--
		}
		out = append(out, experiment.NewSample(limb,
			s.rng.NormFloat64()*amp,
			s.rng.NormFloat64()*amp,
			s.rng.NormFloat64()*amp,
			ts,
		))
	}
	return out
}
