package engine

import "sync/atomic"

// Clock is a monotonic logical clock for ordering transition records.
//
// Records are stamped with a strictly increasing seq so the log's order
// is explicit and replay-stable, independent of wall-clock resolution.
//
// Thread-safety: safe for concurrent use (atomic operations), though a
// single Run only ever stamps from one goroutine.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a specific sequence number.
// Used when extending a persisted run log.
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
