// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sample

import (
	"sort"
	"time"
)

// RateRecord holds the per-second rates of one entity over the
// interval [Start, End). Finest-tier records come from two snapshots;
// coarser records aggregate Samples finer ones. Every rate is >= 0.
//
// Records are immutable once appended to history. Rates must not be
// modified after construction.
type RateRecord struct {
	Key     Key
	Start   time.Time
	End     time.Time
	Rates   map[string]float64
	Samples int
}

// Duration returns End - Start.
func (r RateRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Names returns the counter names in sorted order.
func (r RateRecord) Names() []string {
	names := make([]string, 0, len(r.Rates))
	for name := range r.Rates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
