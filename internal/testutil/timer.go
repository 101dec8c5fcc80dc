package testutil

import (
	"sync"
	"time"
)

// ManualTimer is a debounce timer that fires only when the test says
// so. Scheduling replaces any pending callback, matching the
// trailing-edge semantics of a real debounce timer.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualTimer struct {
	mu        sync.Mutex
	pending   func()
	scheduled int
}

// NewManualTimer creates an armed-but-idle manual timer.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{}
}

// Schedule records fn as the pending callback. The duration is
// ignored; only Fire runs the callback.
func (t *ManualTimer) Schedule(_ time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = fn
	t.scheduled++
}

// Stop discards the pending callback.
func (t *ManualTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

// Fire runs the pending callback synchronously, if any, and reports
// whether one ran. The callback is cleared before running so it can
// reschedule.
func (t *ManualTimer) Fire() bool {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// ScheduleCount returns how many times Schedule has been called.
// Tests use it to assert that repeated triggers within a debounce
// window reschedule rather than stack.
func (t *ManualTimer) ScheduleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduled
}

// Pending reports whether a callback is waiting to fire.
func (t *ManualTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
