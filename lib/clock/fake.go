// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only on Advance.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is a pending After or ticker registration.
type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is non-zero for tickers; they are rescheduled after
	// firing instead of being removed.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.timers = append(c.timers, &fakeTimer{deadline: c.current.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	c.timers = append(c.timers, timer)
	c.changed.Broadcast()

	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is reached, in deadline order. A ticker spanning several
// periods fires once per period; ticks that do not fit in the channel
// buffer are dropped, as with time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		for _, fire := range due {
			select {
			case fire.channel <- fire.at:
			default:
			}
		}
	}
}

type firing struct {
	channel chan time.Time
	at      time.Time
}

// collectDue removes one firing per due timer and reschedules tickers.
func (c *FakeClock) collectDue(target time.Time) []firing {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})

	var due []firing
	remaining := c.timers[:0]
	for _, timer := range c.timers {
		if timer.stopped {
			continue
		}
		if timer.deadline.After(target) {
			remaining = append(remaining, timer)
			continue
		}
		due = append(due, firing{channel: timer.channel, at: timer.deadline})
		if timer.period > 0 {
			timer.deadline = timer.deadline.Add(timer.period)
			remaining = append(remaining, timer)
		}
	}
	c.timers = remaining
	return due
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Call it before Advance to avoid racing a goroutine that has not yet
// registered its ticker.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped {
			count++
		}
	}
	return count
}
