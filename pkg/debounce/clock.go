package debounce

import (
	"sort"
	"sync"
	"time"
)

// Stopper cancels a scheduled function.
type Stopper interface {
	// Stop prevents the function from running. It reports whether the call
	// stopped it; false means it already ran or was already stopped.
	Stop() bool
}

// Clock schedules functions after a delay.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealClock schedules with time.AfterFunc.
type RealClock struct{}

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// ManualClock is a Clock whose time only moves when Advance is called.
// Due functions run synchronously on the goroutine calling Advance.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	due     time.Duration
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

// NewManualClock returns a ManualClock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc implements Clock.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, due: c.now + d, seq: c.seq, f: f}
	c.pending = append(c.pending, t)
	return t
}

// Stop implements Stopper.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d and runs every function that became due,
// in due order. Functions scheduled by those functions run too if they fall
// inside the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.due
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of scheduled functions that have not run or
// been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Now returns the elapsed manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) nextDueLocked(target time.Duration) *manualTimer {
	live := c.pending[:0]
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.pending = live
	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].due == c.pending[j].due {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].due < c.pending[j].due
	})
	if len(c.pending) == 0 || c.pending[0].due > target {
		return nil
	}
	return c.pending[0]
}
