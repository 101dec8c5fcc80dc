package testutil

import (
	"sync"
	"time"
)

// Clock provides a thread-safe deterministic time source for tests.
//
// Frozen at a fixed instant unless advanced explicitly, so expression
// evaluation over NOW and TODAY produces byte-identical results on
// every run.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(at time.Time) *Clock {
	return &Clock{now: at}
}

// Now returns the clock's current instant. Pass this method as the
// Now function of an expression environment.
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

// Set moves the clock to an absolute instant.
func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
