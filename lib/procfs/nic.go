// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package procfs

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// NICSource reports /proc/net/dev per interface. The kernel keeps
// these counters in 64 bits on every architecture.
type NICSource struct {
	fs    procfs.FS
	clock clock.Clock
	tune  func(class, counter string, spec sample.CounterSpec) sample.CounterSpec
}

func NewNICSource(cfg Config) (*NICSource, error) {
	fs, err := procfs.NewFS(cfg.procRoot())
	if err != nil {
		return nil, fmt.Errorf("procfs: nic source: %w", err)
	}
	return &NICSource{fs: fs, clock: cfg.clock(), tune: cfg.Tune}, nil
}

func (s *NICSource) Class() string { return ClassNIC }

func (s *NICSource) Enumerate(ctx context.Context) ([]sample.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := s.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("procfs: reading net/dev: %w", err)
	}
	keys := make([]sample.Key, 0, len(devices))
	for name := range devices {
		keys = append(keys, sample.Key{Class: ClassNIC, ID: name})
	}
	return sortKeys(keys), nil
}

func (s *NICSource) Acquire(ctx context.Context, key sample.Key) (sample.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return sample.Snapshot{}, err
	}
	devices, err := s.fs.NetDev()
	if err != nil {
		return sample.Snapshot{}, fmt.Errorf("procfs: reading net/dev: %w", err)
	}
	now := s.clock.Now()

	line, ok := devices[key.ID]
	if !ok {
		return sample.Snapshot{}, notAvailable(key)
	}
	set := counterSet{class: ClassNIC, tune: s.tune}
	set.add("rx_bytes", line.RxBytes, cumulative(64))
	set.add("rx_packets", line.RxPackets, cumulative(64))
	set.add("rx_errors", line.RxErrors, cumulative(64))
	set.add("rx_dropped", line.RxDropped, cumulative(64))
	set.add("tx_bytes", line.TxBytes, cumulative(64))
	set.add("tx_packets", line.TxPackets, cumulative(64))
	set.add("tx_errors", line.TxErrors, cumulative(64))
	set.add("tx_dropped", line.TxDropped, cumulative(64))
	set.add("collisions", line.TxCollisions, cumulative(64))
	return sample.Snapshot{Key: key, Time: now, Counters: set.counters}, nil
}
