package debounce

import (
	"sync"
	"time"
)

// Poster hands a function to the goroutine that should execute it.
type Poster func(func())

// Direct runs posted functions immediately on the calling goroutine.
func Direct(f func()) { f() }

// Timer is a trailing-edge debounce timer with a single pending firing.
type Timer struct {
	delay  time.Duration
	action func()
	clock  Clock
	post   Poster

	mu      sync.Mutex
	gen     uint64
	pending Stopper
	armed   bool
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock sets the clock (default RealClock).
func WithClock(c Clock) Option {
	return func(t *Timer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithPoster sets where firings execute (default Direct, i.e. the clock's
// goroutine).
func WithPoster(p Poster) Option {
	return func(t *Timer) {
		if p != nil {
			t.post = p
		}
	}
}

// New creates a Timer that runs action after delay of quiet.
func New(delay time.Duration, action func(), opts ...Option) *Timer {
	t := &Timer{
		delay:  delay,
		action: action,
		clock:  RealClock{},
		post:   Direct,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay returns the debounce window.
func (t *Timer) Delay() time.Duration {
	return t.delay
}

// Trigger cancels any pending firing and starts a new window.
func (t *Timer) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.pending = t.clock.AfterFunc(t.delay, func() {
		t.post(func() { t.fire(gen) })
	})
}

// Cancel drops the pending firing. It reports whether one was pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasArmed := t.armed
	t.stopLocked()
	t.gen++
	return wasArmed
}

// Pending reports whether a firing is scheduled and has not yet run.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Flush runs the action now if a firing is pending, cancelling the timer.
// It reports whether the action ran. Flush runs on the caller's goroutine.
func (t *Timer) Flush() bool {
	if !t.Cancel() {
		return false
	}
	t.action()
	return true
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.pending = nil
	t.mu.Unlock()

	t.action()
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.armed = false
}
