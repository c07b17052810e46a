package sensor

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agency/internal/experiment"
)

type collectSink struct {
	mu      sync.Mutex
	samples []experiment.Sample
}

func (c *collectSink) Record(s experiment.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_DeliversToChannelAndSinks(t *testing.T) {
	sink := &collectSink{}
	r := NewRouter(4, quietLogger(), sink)

	s := experiment.NewSample(experiment.LimbLeftLeg, 0.3, 0.4, 0, 1.5)
	r.Deliver(s)

	got := <-r.Samples()
	assert.Equal(t, s, got)
	assert.Equal(t, 1, sink.len())
	assert.Equal(t, int64(1), r.Routed())
}

func TestRouter_DropsWhenFullButStillRecords(t *testing.T) {
	sink := &collectSink{}
	r := NewRouter(2, quietLogger(), sink)

	for i := 0; i < 5; i++ {
		r.Deliver(experiment.NewSample(experiment.LimbLeftHand, 0, 0, 0, float64(i)))
	}
	assert.Equal(t, int64(3), r.Dropped())
	assert.Equal(t, 5, sink.len())
	assert.Len(t, r.Samples(), 2)
}

func TestRouter_Close(t *testing.T) {
	r := NewRouter(1, quietLogger())
	r.Close()
	r.Close()
	r.Deliver(experiment.NewSample(experiment.LimbLeftHand, 1, 0, 0, 0))

	_, ok := <-r.Samples()
	require.False(t, ok)
	assert.Zero(t, r.Routed())
}
