// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package procfs

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// Entity classes produced by this package.
const (
	ClassCPU   = "cpu"
	ClassDisk  = "disk"
	ClassNIC   = "nic"
	ClassSched = "sched"
)

// longWidth is the width of the kernel's unsigned long.
const longWidth = uint8(bits.UintSize)

// Config is shared by all sources.
type Config struct {
	// ProcRoot and SysRoot default to /proc and /sys.
	ProcRoot string
	SysRoot  string

	// Clock stamps snapshots. Nil means the real clock.
	Clock clock.Clock

	// Tune, when set, adjusts each counter's spec (for configured
	// width or threshold overrides).
	Tune func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
}

func (c Config) procRoot() string {
	if c.ProcRoot == "" {
		return "/proc"
	}
	return c.ProcRoot
}

func (c Config) sysRoot() string {
	if c.SysRoot == "" {
		return "/sys"
	}
	return c.SysRoot
}

func (c Config) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

// counterSet builds a snapshot's counters with tuned specs.
type counterSet struct {
	class    string
	tune     func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
	counters []sample.Counter
}

func (s *counterSet) add(name string, value uint64, spec sample.CounterSpec) {
	if s.tune != nil {
		spec = s.tune(s.class, name, spec)
	}
	s.counters = append(s.counters, sample.Counter{Name: name, Value: value, Spec: spec})
}

func cumulative(width uint8) sample.CounterSpec {
	return sample.CounterSpec{Kind: sample.Cumulative, Width: width}
}

func gauge() sample.CounterSpec {
	return sample.CounterSpec{Kind: sample.Gauge, Width: 64}
}

func notAvailable(key sample.Key) error {
	return fmt.Errorf("procfs: %s: %w", key, sample.ErrNotAvailable)
}

func sortKeys(keys []sample.Key) []sample.Key {
	slices.SortFunc(keys, func(a, b sample.Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}
