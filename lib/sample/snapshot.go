// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sample

import (
	"errors"
	"time"
)

// ErrNotAvailable is returned by sources when an entity cannot be read
// this round, typically because it disappeared between enumeration and
// acquisition.
var ErrNotAvailable = errors.New("sample: entity not available")

// CounterKind says how a counter's value evolves.
type CounterKind uint8

const (
	// Cumulative counters only grow between resets (bytes transferred,
	// jiffies spent). Rates are computed from the difference of two
	// readings.
	Cumulative CounterKind = iota

	// Gauge counters are instantaneous levels (I/Os in flight, queue
	// depth). The reported value is the reading at the end of the
	// interval; gauges are never differenced.
	Gauge
)

// String returns "cumulative" or "gauge".
func (k CounterKind) String() string {
	if k == Gauge {
		return "gauge"
	}
	return "cumulative"
}

// DefaultWidth is the counter width assumed when a source does not
// declare one.
const DefaultWidth = 32

// CounterSpec describes the arithmetic of one counter.
type CounterSpec struct {
	Kind CounterKind

	// Width is the counter's native width in bits, 32 or 64. Zero
	// means DefaultWidth. A cumulative counter that decreases is
	// reinterpreted modulo 2^Width before being classified as a wrap
	// or a reset.
	Width uint8

	// MaxDelta is the largest wrapped delta accepted as a genuine
	// overflow. Zero means half the modulus.
	MaxDelta uint64

	// MaxRate bounds the per-second rate of a wrapped delta, in raw
	// units. Zero means unbounded.
	MaxRate float64

	// Scale divides the reported value, for counters kept in fixed
	// point (a load average sampled in hundredths has Scale 100). Zero
	// means 1.
	Scale uint32
}

// EffectiveWidth returns Width, or DefaultWidth when Width is zero or
// out of range.
func (s CounterSpec) EffectiveWidth() uint8 {
	if s.Width == 0 || s.Width > 64 {
		return DefaultWidth
	}
	return s.Width
}

// EffectiveMaxDelta returns MaxDelta, or half the modulus when unset.
func (s CounterSpec) EffectiveMaxDelta() uint64 {
	if s.MaxDelta != 0 {
		return s.MaxDelta
	}
	return uint64(1) << (s.EffectiveWidth() - 1)
}

// EffectiveScale returns Scale as a divisor, 1 when unset.
func (s CounterSpec) EffectiveScale() float64 {
	if s.Scale == 0 {
		return 1
	}
	return float64(s.Scale)
}

// Counter is one named raw reading.
type Counter struct {
	Name  string
	Value uint64
	Spec  CounterSpec
}

// Snapshot is one reading of an entity's counters at one instant. Time
// comes from the sampler's clock; with a real clock it carries a
// monotonic reading, which is what elapsed-time arithmetic uses.
//
// Snapshots are values and must not be modified once handed to the
// scheduler.
type Snapshot struct {
	Key      Key
	Time     time.Time
	Counters []Counter
}

// Counter returns the named counter and whether it is present.
func (s Snapshot) Counter(name string) (Counter, bool) {
	for _, counter := range s.Counters {
		if counter.Name == name {
			return counter, true
		}
	}
	return Counter{}, false
}
