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

// AllCPUs is the ID of the aggregate entity built from the "cpu" line.
const AllCPUs = "all"

// CPUSource reports CPU time per logical CPU, in centiseconds, so rates
// read as percent of one CPU.
type CPUSource struct {
	fs    procfs.FS
	clock clock.Clock
	tune  func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
}

func NewCPUSource(cfg Config) (*CPUSource, error) {
	fs, err := procfs.NewFS(cfg.procRoot())
	if err != nil {
		return nil, fmt.Errorf("procfs: cpu source: %w", err)
	}
	return &CPUSource{fs: fs, clock: cfg.clock(), tune: cfg.Tune}, nil
}

func (s *CPUSource) Class() string { return ClassCPU }

func (s *CPUSource) Enumerate(ctx context.Context) ([]sample.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stat, err := s.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("procfs: reading stat: %w", err)
	}
	keys := []sample.Key{{Class: ClassCPU, ID: AllCPUs}}
	for index := range stat.CPU {
		keys = append(keys, sample.Key{Class: ClassCPU, ID: fmt.Sprintf("cpu%d", index)})
	}
	return sortKeys(keys), nil
}

func (s *CPUSource) Acquire(ctx context.Context, key sample.Key) (sample.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return sample.Snapshot{}, err
	}
	stat, err := s.fs.Stat()
	if err != nil {
		return sample.Snapshot{}, fmt.Errorf("procfs: reading stat: %w", err)
	}
	now := s.clock.Now()

	var cpu procfs.CPUStat
	found := false
	if key.ID == AllCPUs {
		cpu, found = stat.CPUTotal, true
	} else {
		for index, candidate := range stat.CPU {
			if fmt.Sprintf("cpu%d", index) == key.ID {
				cpu, found = candidate, true
				break
			}
		}
	}
	if !found {
		return sample.Snapshot{}, notAvailable(key)
	}

	set := counterSet{class: ClassCPU, tune: s.tune}
	for _, field := range []struct {
		name    string
		seconds float64
	}{
		{"user", cpu.User},
		{"nice", cpu.Nice},
		{"system", cpu.System},
		{"idle", cpu.Idle},
		{"iowait", cpu.Iowait},
		{"irq", cpu.IRQ},
		{"softirq", cpu.SoftIRQ},
		{"steal", cpu.Steal},
		{"guest", cpu.Guest},
		{"guest_nice", cpu.GuestNice},
	} {
		set.add(field.name, centiseconds(field.seconds), cumulative(64))
	}
	return sample.Snapshot{Key: key, Time: now, Counters: set.counters}, nil
}

// centiseconds undoes the library's division by USER_HZ (100).
func centiseconds(seconds float64) uint64 {
	return uint64(math.Round(seconds * 100))
}
