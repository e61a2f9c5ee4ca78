package engine

import (
	"sync"

	"github.com/roach88/mutual/internal/store"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeChange carries a feed row to apply.
	EventTypeChange EventType = iota + 1
	// EventTypeBarrier asks the loop to drain the feed, then signal done.
	EventTypeBarrier
)

// Event is one unit of work for the Run loop.
type Event struct {
	Type   EventType
	Change store.Change
	done   chan struct{}
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Enqueue may be called from any goroutine while the Run loop dequeues.
// The signal channel lets Run wait on the queue inside a select next to
// ctx.Done and the feed wake-ups.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed once the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes any waiter.
// Pending barriers are released so Sync callers do not hang.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, e := range q.events {
		if e.done != nil {
			close(e.done)
		}
	}
	q.events = nil
	close(q.signal)
}

// isClosed reports whether Close has been called.
func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
