package sequencer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_FIFO(t *testing.T) {
	q := newCommandQueue()

	require.True(t, q.Enqueue(command{kind: cmdStart}))
	require.True(t, q.Enqueue(command{kind: cmdStepExpired, run: 1, step: 0}))
	require.True(t, q.Enqueue(command{kind: cmdStop}))
	assert.Equal(t, 3, q.Len())

	for _, want := range []commandKind{cmdStart, cmdStepExpired, cmdStop} {
		c, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, c.kind)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestCommandQueue_SignalCoalesces(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(command{kind: cmdPause})
	q.Enqueue(command{kind: cmdResume})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signal should coalesce to one wakeup")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestCommandQueue_WaitWakesOnEnqueue(t *testing.T) {
	q := newCommandQueue()

	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	q.Enqueue(command{kind: cmdBarrier})
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestCommandQueue_CloseRepliesToPending(t *testing.T) {
	q := newCommandQueue()
	reply := make(chan error, 1)
	q.Enqueue(command{kind: cmdStart, reply: reply})
	q.Enqueue(command{kind: cmdProgress})

	closeErr := errors.New("loop gone")
	q.Close(closeErr)
	q.Close(closeErr)

	assert.ErrorIs(t, <-reply, closeErr)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Enqueue(command{kind: cmdStop}))

	_, open := <-q.Wait()
	assert.False(t, open, "signal channel should be closed")
}

func TestCommandQueue_ConcurrentEnqueue(t *testing.T) {
	q := newCommandQueue()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(command{kind: cmdStepExpired, step: step})
			}
		}(i)
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 800, n)
}

func TestCommandKind_String(t *testing.T) {
	assert.Equal(t, "step expired", cmdStepExpired.String())
	assert.Equal(t, "barrier", cmdBarrier.String())
	assert.Equal(t, "unknown", commandKind(99).String())
}

func TestCommand_ClaimOnce(t *testing.T) {
	assert.True(t, command{kind: cmdStepExpired}.claim(), "timer commands are always executable")

	c := command{kind: cmdStart, claimed: new(atomic.Bool)}
	assert.True(t, c.claim())
	assert.False(t, c.claim())

	abandoned := command{kind: cmdStop, claimed: new(atomic.Bool)}
	abandoned.claimed.Store(true)
	assert.False(t, abandoned.claim())
}
