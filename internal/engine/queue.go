package engine

import (
	"context"
	"sync"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeCheckout starts a checkout.
	EventTypeCheckout EventType = iota + 1
	// EventTypeFinalize forwards a consume call to the native layer.
	EventTypeFinalize
	// EventTypeQuery starts a query or restore of existing purchases.
	EventTypeQuery
	// EventTypeNativeCompletion ingests one native purchase completion.
	EventTypeNativeCompletion
	// EventTypeQueryComplete ingests a query existing purchases batch.
	EventTypeQueryComplete
	// EventTypeRestoreComplete ingests a restore transactions batch.
	EventTypeRestoreComplete
	// EventTypeCall runs an arbitrary closure on the engine goroutine.
	EventTypeCall
)

var eventTypeNames = map[EventType]string{
	EventTypeCheckout:         "checkout",
	EventTypeFinalize:         "finalize",
	EventTypeQuery:            "query",
	EventTypeNativeCompletion: "native_completion",
	EventTypeQueryComplete:    "query_complete",
	EventTypeRestoreComplete:  "restore_complete",
	EventTypeCall:             "call",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one unit of work for the engine goroutine.
type Event struct {
	Type  EventType
	Apply func(ctx context.Context, r *Reconciler) error
}

// eventQueue is a thread-safe unbounded FIFO queue for events.
//
// Native callbacks and HTTP handlers enqueue from arbitrary goroutines while
// the Engine's Run loop dequeues. The signal channel lets Run wait with a
// context instead of blocking forever.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
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

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Release the closure so the backing array does not pin it.
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

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued and wakes waiters.
// Events already queued are still drained by Run.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
