package sockline

import (
	"sync"
)

type queuedEvent struct {
	eventType string
	payload   any
	// generation of the connection that received an inbound message; zero
	// for lifecycle events
	generation uint64
}

// eventQueue is the dispatcher's FIFO. Inbound messages are bounded by
// limit; lifecycle events are always accepted so that the sequence of
// state transitions is never lost.
type eventQueue struct {
	mu     sync.Mutex
	items  []queuedEvent
	limit  int
	closed bool
	notify chan struct{}
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends ev and reports whether it was accepted.
func (q *eventQueue) push(ev queuedEvent, bounded bool) bool {
	q.mu.Lock()
	if q.closed || (bounded && len(q.items) >= q.limit) {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.wake()
	return true
}

// next blocks until an event is available. It returns false once the queue
// is closed and drained.
func (q *eventQueue) next() (queuedEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = queuedEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		if q.closed {
			q.mu.Unlock()
			return queuedEvent{}, false
		}
		q.mu.Unlock()

		<-q.notify
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
