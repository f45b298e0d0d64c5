package hub

import (
	"sync"
	"time"
)

// Clock is the time source of a [Hub].
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real time clock.
func SystemClock() Clock { return systemClock{} }

// ManualClock is a [Clock] advanced explicitly instead of following real time.
//
// A hub driven by a ManualClock runs in virtual time: whenever no task is
// ready it jumps straight to the next timer deadline, so timed behavior is
// deterministic and tests finish instantly regardless of the durations
// involved.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a new [ManualClock] set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvanceTo moves the clock forward to t.
// The clock never moves backwards: an earlier t is ignored.
func (c *ManualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}
