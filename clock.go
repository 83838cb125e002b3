package asyncache

import (
	"sync"
	"time"
)

// Clock supplies the current application time. Every shape reads it once per
// emitted event and once per evaluated view; transition handlers never call it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to.
//
// The zero value starts at Unix second 1000 so that a freshly stamped
// timestamp is never the zero time.Time, which the records use as "unset".
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start. A zero start is replaced with
// the same base the zero value uses.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = manualClockBase
	}
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; the engine only
// compares differences so tests can rewind freely.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = manualClockBase
	}
	c.now = c.now.Add(d)
	return c.now
}

var manualClockBase = time.Unix(1000, 0)
