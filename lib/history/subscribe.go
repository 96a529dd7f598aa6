// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"sync"
	"sync/atomic"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// Subscription delivers every record appended after Subscribe returns.
// Delivery never blocks Append: when C is full the record is dropped
// and counted.
type Subscription struct {
	// C is closed when the subscription or the store is closed.
	C <-chan sample.RateRecord

	channel chan sample.RateRecord
	owner   *subscribers
	dropped atomic.Uint64
}

// Dropped returns how many records were discarded because C was full.
func (sub *Subscription) Dropped() uint64 {
	return sub.dropped.Load()
}

// Close stops delivery and closes C. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.owner.remove(sub)
}

type subscribers struct {
	mu     sync.Mutex
	active map[*Subscription]struct{}
	closed bool
}

// Subscribe starts a subscription with the given channel buffer. A
// buffer below one is raised to one.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	channel := make(chan sample.RateRecord, buffer)
	sub := &Subscription{C: channel, channel: channel, owner: &s.subscribers}
	s.subscribers.add(sub)
	return sub
}

func (set *subscribers) add(sub *Subscription) {
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.closed {
		close(sub.channel)
		return
	}
	if set.active == nil {
		set.active = make(map[*Subscription]struct{})
	}
	set.active[sub] = struct{}{}
}

func (set *subscribers) remove(sub *Subscription) {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.active[sub]; !ok {
		return
	}
	delete(set.active, sub)
	close(sub.channel)
}

func (set *subscribers) publish(record sample.RateRecord) {
	set.mu.Lock()
	defer set.mu.Unlock()
	for sub := range set.active {
		select {
		case sub.channel <- record:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (set *subscribers) closeAll() {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.closed = true
	for sub := range set.active {
		close(sub.channel)
	}
	set.active = nil
}
