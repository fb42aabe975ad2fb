package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
// This interface allows for deterministic testing of time-dependent logic.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current system time.
func (c RealClock) Now() time.Time {
	return time.Now()
}

// FixedClock implements Clock returning a predetermined time that tests can move.
type FixedClock struct {
	mu        sync.RWMutex
	fixedTime time.Time
}

// NewFixedClock creates a FixedClock that returns the given time until moved.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{fixedTime: t}
}

// Now returns the fixed time.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fixedTime
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.fixedTime = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.fixedTime = c.fixedTime.Add(d)
	c.mu.Unlock()
}
