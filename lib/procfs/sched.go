// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package procfs

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/procfs"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// SystemID is the ID of the single scheduler entity.
const SystemID = "system"

// loadScale keeps load averages in hundredths, the precision
// /proc/loadavg prints.
const loadScale = 100

// SchedSource reports system-wide scheduler activity from /proc/stat
// and /proc/loadavg: forks, context switches and interrupts as rates,
// the run and block queues and the load averages as levels.
type SchedSource struct {
	fs    procfs.FS
	clock clock.Clock
	tune  func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
}

func NewSchedSource(cfg Config) (*SchedSource, error) {
	fs, err := procfs.NewFS(cfg.procRoot())
	if err != nil {
		return nil, fmt.Errorf("procfs: sched source: %w", err)
	}
	return &SchedSource{fs: fs, clock: cfg.clock(), tune: cfg.Tune}, nil
}

func (s *SchedSource) Class() string { return ClassSched }

func (s *SchedSource) Enumerate(ctx context.Context) ([]sample.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []sample.Key{{Class: ClassSched, ID: SystemID}}, nil
}

func (s *SchedSource) Acquire(ctx context.Context, key sample.Key) (sample.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return sample.Snapshot{}, err
	}
	if key.ID != SystemID {
		return sample.Snapshot{}, notAvailable(key)
	}
	stat, err := s.fs.Stat()
	if err != nil {
		return sample.Snapshot{}, fmt.Errorf("procfs: reading stat: %w", err)
	}
	load, err := s.fs.LoadAvg()
	if err != nil {
		return sample.Snapshot{}, fmt.Errorf("procfs: reading loadavg: %w", err)
	}
	now := s.clock.Now()

	set := counterSet{class: ClassSched, tune: s.tune}
	set.add("forks", stat.ProcessCreated, cumulative(longWidth))
	set.add("context_switches", stat.ContextSwitches, cumulative(64))
	set.add("interrupts", stat.IRQTotal, cumulative(64))
	set.add("procs_running", stat.ProcessesRunning, gauge())
	set.add("procs_blocked", stat.ProcessesBlocked, gauge())

	scaled := gauge()
	scaled.Scale = loadScale
	set.add("load1", hundredths(load.Load1), scaled)
	set.add("load5", hundredths(load.Load5), scaled)
	set.add("load15", hundredths(load.Load15), scaled)
	return sample.Snapshot{Key: key, Time: now, Counters: set.counters}, nil
}

func hundredths(value float64) uint64 {
	if value <= 0 {
		return 0
	}
	return uint64(math.Round(value * loadScale))
}
