package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, typ := range []EventType{EventTypeCheckout, EventTypeNativeCompletion, EventTypeQuery} {
		require.True(t, q.Enqueue(Event{Type: typ}))
	}
	assert.Equal(t, 3, q.Len())

	var got []EventType
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, e.Type)
	}
	assert.Equal(t, []EventType{EventTypeCheckout, EventTypeNativeCompletion, EventTypeQuery}, got)
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_SignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Type: EventTypeCall})
	q.Enqueue(Event{Type: EventTypeCall})

	// Two enqueues coalesce into one pending signal.
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestEventQueue_CloseRejectsEnqueue(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Type: EventTypeCall})
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(Event{Type: EventTypeCall}))

	// Queued events survive the close.
	_, ok := q.TryDequeue()
	assert.True(t, ok)

	// Closed signal channel never blocks.
	<-q.Wait()
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	const goroutines = 10
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				q.Enqueue(Event{Type: EventTypeNativeCompletion})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "checkout", EventTypeCheckout.String())
	assert.Equal(t, "restore_complete", EventTypeRestoreComplete.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
