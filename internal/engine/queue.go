package engine

import (
	"sync"

	"github.com/roach88/admitlog/internal/ir"
)

// queued is an event waiting for a worker. Seq is the enqueue position.
type queued struct {
	Seq   int
	Event ir.Event
}

// eventQueue is a thread-safe FIFO queue of events.
//
// The queue is unbounded so feed readers never block on slow workers.
// Waiting is context-aware through the Wait channel; the channel is
// closed by Close, which wakes every worker at once.
type eventQueue struct {
	mu     sync.Mutex
	items  []queued
	next   int
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]queued, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue and returns its
// position. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(ev ir.Event) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, false
	}
	seq := q.next
	q.next++
	q.items = append(q.items, queued{Seq: seq, Event: ev})
	q.notify()
	return seq, true
}

// notify signals availability without blocking; the buffer of one
// coalesces signals. Callers hold mu.
func (q *eventQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front item without blocking.
func (q *eventQueue) TryDequeue() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queued{}, false
	}
	item := q.items[0]
	q.items[0] = queued{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
		// Another worker may be waiting on the coalesced signal.
		q.notify()
	}
	return item, true
}

// Wait returns a channel that receives when items may be available and
// is closed once the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Items already queued are still dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
