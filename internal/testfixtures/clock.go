package testfixtures

import (
	"sync"
	"time"
)

// Monday is the reference instant used across tests: Monday 2025-03-10 08:00 UTC.
var Monday = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock set to start, or to Monday when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = Monday
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
