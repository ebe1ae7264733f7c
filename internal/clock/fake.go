package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a Fake clock frozen at initial. Time moves only when
// Advance is called; pending timers whose deadlines fall inside the
// advanced span fire in deadline order.
func NewFake(initial time.Time) *Fake {
	f := &Fake{current: initial}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Fake is a deterministic Clock for tests. Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, so a callback
// must not call Advance or Sleep on the same Fake.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

// waiter is one pending After/AfterFunc/Ticker/Sleep registration.
type waiter struct {
	deadline time.Time
	ch       chan time.Time // nil for AfterFunc
	fn       func()         // nil for channel waiters
	interval time.Duration  // non-zero for tickers; rescheduled after firing
	stopped  bool
	fired    bool
}

// Now returns the frozen current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// After registers a one-shot channel waiter. A non-positive d delivers
// immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.current
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.current.Add(d), ch: ch})
	f.changed.Broadcast()
	return ch
}

// AfterFunc registers fn to run when the clock advances past d. A
// non-positive d runs fn synchronously before returning.
func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()

	if d <= 0 {
		f.mu.Unlock()
		fn()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	w := &waiter{deadline: f.current.Add(d), fn: fn}
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
	f.mu.Unlock()

	return &Timer{
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			active := !w.stopped && !w.fired
			w.stopped = false
			w.fired = false
			w.deadline = f.current.Add(d)
			if !active {
				f.waiters = append(f.waiters, w)
				f.changed.Broadcast()
			}
			return active
		},
	}
}

// NewTicker registers a repeating waiter. Panics if d <= 0.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: f.current.Add(d), ch: ch, interval: d}
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			w.stopped = true
		},
		reset: func(d time.Duration) {
			f.mu.Lock()
			defer f.mu.Unlock()
			w.interval = d
			w.deadline = f.current.Add(d)
			w.stopped = false
		},
	}
}

// Sleep blocks until the clock advances past d.
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-f.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Channel sends
// never block; a full buffer drops the tick, matching time.Ticker.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	target := f.current
	f.mu.Unlock()

	for {
		expired := f.collectExpired(target)
		if len(expired) == 0 {
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})

		for _, w := range expired {
			if w.fn != nil {
				w.fn()
			} else if w.ch != nil {
				select {
				case w.ch <- target:
				default:
				}
			}
		}
	}
}

// collectExpired removes due waiters from the pending list, reschedules
// tickers, and returns what should fire. Callbacks may register new
// timers, so Advance loops until nothing else is due.
func (f *Fake) collectExpired(target time.Time) []*waiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, remaining []*waiter
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}

	for _, w := range due {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}

	f.waiters = remaining
	return due
}

// WaitForTimers blocks until at least n waiters are pending. Closes the
// race between a goroutine arming a timer and the test advancing past
// its deadline.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

// PendingCount returns the number of armed waiters.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
