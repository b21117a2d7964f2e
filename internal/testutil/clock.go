package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a DeterministicClock returns.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe stepping wall clock for tests.
//
// Each call to Now returns the previous instant plus Step, so audit
// timestamps and log message times are reproducible across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock starting at start (DefaultEpoch if
// zero) advancing one second per call.
//
// The first call to Now() returns start.
func NewDeterministicClock(start time.Time) *DeterministicClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &DeterministicClock{start: start.UTC(), step: time.Second}
}

// WithStep changes the advance per call.
func (c *DeterministicClock) WithStep(d time.Duration) *DeterministicClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
	return c
}

// Now returns the next instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Current returns the instant the next Now call will return, without
// advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.calls) * c.step)
}

// Reset rewinds the clock to its start.
//
// Used for test reuse. After Reset(), the next call to Now() returns start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
