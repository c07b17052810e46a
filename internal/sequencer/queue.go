package sequencer

import (
	"sync"
	"sync/atomic"
)

type commandKind int

const (
	cmdStart commandKind = iota + 1
	cmdPause
	cmdResume
	cmdStop
	cmdStepExpired
	cmdProgress
	cmdBarrier
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdStop:
		return "stop"
	case cmdStepExpired:
		return "step expired"
	case cmdProgress:
		return "progress"
	case cmdBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// command is one unit of work for the loop. Timer commands carry the run
// token and step index they were armed for so stale fires can be discarded.
//
// Control commands carry claimed: the loop and a caller giving up on its
// context race to set it, and only the winner acts.
type command struct {
	kind    commandKind
	run     uint64
	step    int
	reply   chan error
	claimed *atomic.Bool
}

// claim reports whether the loop may execute c.
func (c command) claim() bool {
	return c.claimed == nil || c.claimed.CompareAndSwap(false, true)
}

// commandQueue is an unbounded FIFO with a coalescing signal channel for
// context-aware waiting in the loop.
//
// Timer callbacks enqueue from the scheduler's goroutines, control calls
// from the UI context; only Run dequeues.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	closed bool
	signal chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		items:  make([]command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds c to the back of the queue. Returns false once closed.
func (q *commandQueue) Enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return command{}, false
	}
	c := q.items[0]
	q.items[0] = command{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return c, true
}

// Wait returns the channel signalled when commands may be available.
// It is closed when the queue closes.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting commands and wakes the loop. Queued commands that
// carry a reply channel are answered with err.
func (q *commandQueue) Close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, c := range q.items {
		if c.reply != nil {
			c.reply <- err
		}
	}
	q.items = nil
	close(q.signal)
}
