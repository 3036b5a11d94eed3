package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time only moves on Advance or Set, and due
// callbacks run synchronously in the goroutine that moved it, in deadline order.
// Callbacks may call Now and AfterFunc; they must not call Advance or Set.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// Advance moves the clock forward by d and fires every callback that became due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set moves the clock to t (never backwards) and fires every callback that became due,
// including ones scheduled by callbacks fired during this call.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	if t.After(c.current) {
		c.current = t
	}
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		for _, w := range due {
			w.callback()
		}
	}
}

// Pending returns the number of scheduled callbacks that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) collectDue(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeWaiter
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			w.fired = true
			due = append(due, w)
		default:
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}
