package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a new DeterministicClock.
var Epoch = time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake clock for tests.
//
// Each call to Now() returns the next instant, one Step apart, starting at
// Epoch. The same test run twice sees identical timestamps.
//
// Implements ledger.Clock.
type DeterministicClock struct {
	mu    sync.Mutex
	ticks int64
	Step  time.Duration
}

// NewDeterministicClock creates a clock that advances one second per call.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{Step: time.Second}
}

// Now returns the next instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * c.Step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}

// BackwardsClock returns instants that move backwards, for exercising
// timestamp clamping.
type BackwardsClock struct {
	mu    sync.Mutex
	ticks int64
}

// Now returns Epoch minus one minute per previous call.
func (c *BackwardsClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(-time.Duration(c.ticks) * time.Minute)
	c.ticks++
	return t
}
