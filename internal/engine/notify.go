package engine

import (
	"sync"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/facts"
	"github.com/emberfall/cinder/internal/temporal"
	"github.com/emberfall/cinder/internal/timers"
)

// NotificationKind distinguishes dispatch queue entries.
type NotificationKind int

const (
	// KindEventEmitted carries a freshly emitted event.
	KindEventEmitted NotificationKind = iota + 1
	// KindFactChanged carries a fact mutation.
	KindFactChanged
	// KindTimerFired carries a timer expiry.
	KindTimerFired
	// KindTemporalMatched carries a completed temporal pattern.
	KindTemporalMatched
	// kindSweep drives temporal window expiry and the timer check from
	// inside the dispatch loop, keeping all matcher state single-writer.
	kindSweep
)

// Notification is one dispatch queue entry. Depth counts causation
// links from the chain root; the loop guard aborts chains that exceed
// the configured maximum.
type Notification struct {
	Kind  NotificationKind
	Depth int

	Event    bus.Event
	Change   facts.Change
	Fired    timers.Fired
	Match    temporal.Match
	sweepNow int64 // ms epoch, kindSweep only
}

// queue is the engine's unbounded FIFO dispatch queue. Unbounded so
// cascading firings can enqueue freely without deadlocking the loop
// that drains them.
//
// Thread-safe for external producers (API goroutines, bus emission)
// while the single Run loop consumes. The buffered signal channel
// coalesces wakeups and closes on Close to release waiters.
type queue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		items:  make([]Notification, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a notification. Returns false once the queue closed.
func (q *queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, n)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front notification without blocking.
func (q *queue) TryDequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	// Zero the slot so the backing array does not retain event payloads.
	q.items[0] = Notification{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return n, true
}

// Wait returns the wakeup channel for context-aware selects. It closes
// when the queue closes.
func (q *queue) Wait() <-chan struct{} { return q.signal }

// Wake pokes the signal channel so a blocked consumer rechecks state.
func (q *queue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len reports the pending notification count.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting notifications and wakes all waiters.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
