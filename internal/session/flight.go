package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounceWindow is the quiescence window for coalescing
// field-level sync triggers: only the trailing edit within the window
// fires a call.
const DefaultDebounceWindow = 300 * time.Millisecond

// Timer schedules the debounce callback. Schedule replaces any
// pending callback; Stop cancels it. The production implementation
// wraps time.AfterFunc; tests fire manually.
type Timer interface {
	Schedule(d time.Duration, fn func())
	Stop()
}

// afterFuncTimer is the wall-clock Timer.
type afterFuncTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

func newAfterFuncTimer() *afterFuncTimer {
	return &afterFuncTimer{}
}

func (a *afterFuncTimer) Schedule(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	a.t = time.AfterFunc(d, fn)
}

func (a *afterFuncTimer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
}

// flightState is the supervisor's scheduling state.
type flightState int

const (
	flightIdle flightState = iota
	flightScheduled
	flightInFlight
	flightCancelled
)

// flight is the single-flight task supervisor behind the sync
// protocol. It coalesces triggers through the debounce window and
// hands out monotonically increasing sequence numbers through Issue.
//
// The run body decides whether an authority call is warranted and
// calls Issue only then, so a fire with nothing to send never
// advances the counter. Calls are issued in Issue order, but an older
// call may still be network-in-flight when a newer one is issued.
// Eligibility to apply is what is mutually exclusive: a response
// writes into form state only while its own sequence number still
// equals Latest, so an in-flight older request can never clobber a
// later one (last-issued-wins).
type flight struct {
	mu       sync.Mutex
	state    flightState
	inFlight int
	seq      atomic.Int64
	window   time.Duration
	timer    Timer
	run      func()
}

func newFlight(window time.Duration, timer Timer, run func()) *flight {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if timer == nil {
		timer = newAfterFuncTimer()
	}
	return &flight{
		window: window,
		timer:  timer,
		run:    run,
	}
}

// Trigger requests a run. While scheduled, the window restarts so the
// trailing trigger wins.
func (f *flight) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == flightCancelled {
		return
	}
	f.state = flightScheduled
	f.timer.Schedule(f.window, f.fire)
}

// fire dispatches the run body. run executes on the timer's
// goroutine; it must call Finish once its response has been applied
// or discarded, and Issue before actually issuing an authority call.
func (f *flight) fire() {
	f.mu.Lock()
	if f.state != flightScheduled {
		f.mu.Unlock()
		return
	}
	f.state = flightInFlight
	f.inFlight++
	f.mu.Unlock()

	f.run()
}

// Issue allocates the sequence number for a call that is about to go
// out on the wire.
func (f *flight) Issue() int64 {
	return f.seq.Add(1)
}

// Finish marks one run complete.
func (f *flight) Finish() {
	f.mu.Lock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if f.state == flightInFlight && f.inFlight == 0 {
		f.state = flightIdle
	}
	f.mu.Unlock()
}

// Latest returns the sequence number of the most recently issued call.
func (f *flight) Latest() int64 {
	return f.seq.Load()
}

// Cancel tears the supervisor down; no further runs fire.
func (f *flight) Cancel() {
	f.mu.Lock()
	f.state = flightCancelled
	f.mu.Unlock()
	f.timer.Stop()
}

// InFlight reports whether any run is currently dispatching.
func (f *flight) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight > 0
}
