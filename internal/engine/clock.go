package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps recorded receipts.
//
// Receipt history is ordered by seq, never by wall-clock time, so a restored
// history sorts the same way it was written.
//
// Thread-safety: Clock is safe for concurrent use. In practice only the
// engine goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start.
// Used on startup with the store's last recorded seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
