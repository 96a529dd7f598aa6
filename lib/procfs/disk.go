// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package procfs

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs/blockdevice"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// DiskSource reports /proc/diskstats per device. Sector counts are in
// 512-byte units; tick counts are milliseconds.
type DiskSource struct {
	fs    blockdevice.FS
	clock clock.Clock
	tune  func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
}

func NewDiskSource(cfg Config) (*DiskSource, error) {
	fs, err := blockdevice.NewFS(cfg.procRoot(), cfg.sysRoot())
	if err != nil {
		return nil, fmt.Errorf("procfs: disk source: %w", err)
	}
	return &DiskSource{fs: fs, clock: cfg.clock(), tune: cfg.Tune}, nil
}

func (s *DiskSource) Class() string { return ClassDisk }

func (s *DiskSource) Enumerate(ctx context.Context) ([]sample.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, err := s.fs.ProcDiskstats()
	if err != nil {
		return nil, fmt.Errorf("procfs: reading diskstats: %w", err)
	}
	keys := make([]sample.Key, 0, len(stats))
	for _, disk := range stats {
		keys = append(keys, sample.Key{Class: ClassDisk, ID: disk.DeviceName})
	}
	return sortKeys(keys), nil
}

func (s *DiskSource) Acquire(ctx context.Context, key sample.Key) (sample.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return sample.Snapshot{}, err
	}
	stats, err := s.fs.ProcDiskstats()
	if err != nil {
		return sample.Snapshot{}, fmt.Errorf("procfs: reading diskstats: %w", err)
	}
	now := s.clock.Now()

	for _, disk := range stats {
		if disk.DeviceName != key.ID {
			continue
		}
		io := disk.IOStats
		set := counterSet{class: ClassDisk, tune: s.tune}
		set.add("reads", io.ReadIOs, cumulative(longWidth))
		set.add("read_merges", io.ReadMerges, cumulative(longWidth))
		set.add("read_sectors", io.ReadSectors, cumulative(longWidth))
		set.add("read_ticks", io.ReadTicks, cumulative(32))
		set.add("writes", io.WriteIOs, cumulative(longWidth))
		set.add("write_merges", io.WriteMerges, cumulative(longWidth))
		set.add("write_sectors", io.WriteSectors, cumulative(longWidth))
		set.add("write_ticks", io.WriteTicks, cumulative(32))
		set.add("io_ticks", io.IOsTotalTicks, cumulative(32))
		set.add("weighted_io_ticks", io.WeightedIOTicks, cumulative(32))
		set.add("in_flight", io.IOsInProgress, gauge())
		return sample.Snapshot{Key: key, Time: now, Counters: set.counters}, nil
	}
	return sample.Snapshot{}, notAvailable(key)
}
