// Package testutil holds shared helpers for tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe controllable time source for tests.
//
// Its Now method has the same shape as time.Now, so it plugs into any
// component that accepts a func() time.Time. Time only moves when a test
// advances it, which makes elapsed-time assertions exact.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// NewClockAt creates a clock frozen at a Unix-millisecond timestamp.
func NewClockAt(unixMs int64) *Clock {
	return NewClock(time.UnixMilli(unixMs).UTC())
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to an absolute time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
