// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

type watermarkKey struct {
	key  sample.Key
	tier int
}

// MemoryBackend keeps history in process memory. Its zero value is not
// usable; call NewMemoryBackend.
type MemoryBackend struct {
	mu         sync.RWMutex
	tiers      []Tier
	series     []map[sample.Key][]sample.RateRecord
	watermarks map[watermarkKey]time.Time
	entities   map[sample.Key]EntityInfo
	horizon    time.Time
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		watermarks: make(map[watermarkKey]time.Time),
		entities:   make(map[sample.Key]EntityInfo),
	}
}

func (m *MemoryBackend) Init(_ context.Context, tiers []Tier) ([]Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(tiers) == 0 {
		if len(m.tiers) == 0 {
			return nil, fmt.Errorf("%w: memory backend needs an explicit ladder", ErrInvalidLadder)
		}
		return slices.Clone(m.tiers), nil
	}
	if m.tiers != nil && len(m.tiers) != len(tiers) {
		return nil, fmt.Errorf("%w: backend holds %d tiers, ladder has %d", ErrInvalidLadder, len(m.tiers), len(tiers))
	}
	m.tiers = slices.Clone(tiers)
	if m.series == nil {
		m.series = make([]map[sample.Key][]sample.RateRecord, len(tiers))
		for i := range m.series {
			m.series[i] = make(map[sample.Key][]sample.RateRecord)
		}
	}
	return slices.Clone(m.tiers), nil
}

func (m *MemoryBackend) Insert(_ context.Context, record sample.RateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.series == nil {
		return fmt.Errorf("history: memory backend not initialized")
	}
	m.series[0][record.Key] = insertSorted(m.series[0][record.Key], record)
	if _, ok := m.entities[record.Key]; !ok {
		m.entities[record.Key] = EntityInfo{Key: record.Key, FirstSeen: record.Start}
	}
	if record.End.After(m.horizon) {
		m.horizon = record.End
	}
	return nil
}

// insertSorted places record by Start, ignoring a record whose Start is
// already present. Appends in order hit the fast path.
func insertSorted(records []sample.RateRecord, record sample.RateRecord) []sample.RateRecord {
	n := len(records)
	if n == 0 || records[n-1].Start.Before(record.Start) {
		return append(records, record)
	}
	i := sort.Search(n, func(i int) bool { return !records[i].Start.Before(record.Start) })
	if i < n && records[i].Start.Equal(record.Start) {
		return records
	}
	return slices.Insert(records, i, record)
}

func (m *MemoryBackend) Last(_ context.Context, tier int, key sample.Key) (sample.RateRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, err := m.tierSeries(tier, key)
	if err != nil || len(records) == 0 {
		return sample.RateRecord{}, false, err
	}
	return records[len(records)-1], true, nil
}

func (m *MemoryBackend) Horizon(context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.horizon, nil
}

func (m *MemoryBackend) Scan(_ context.Context, tier int, key sample.Key, from, to time.Time, limit int) ([]sample.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, err := m.tierSeries(tier, key)
	if err != nil {
		return nil, err
	}
	window := between(records, from, to)
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return slices.Clone(window), nil
}

func (m *MemoryBackend) Count(_ context.Context, tier int, key sample.Key, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, err := m.tierSeries(tier, key)
	if err != nil {
		return 0, err
	}
	return len(between(records, from, to)), nil
}

// between returns the sub-slice with Start in [from, to].
func between(records []sample.RateRecord, from, to time.Time) []sample.RateRecord {
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(records), func(i int) bool { return !records[i].Start.Before(from) })
	}
	hi := sort.Search(len(records), func(i int) bool { return records[i].Start.After(to) })
	if hi < lo {
		return nil
	}
	return records[lo:hi]
}

func (m *MemoryBackend) Watermark(_ context.Context, key sample.Key, tier int) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermarks[watermarkKey{key, tier}], nil
}

func (m *MemoryBackend) Promote(_ context.Context, p Promotion) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Fine < 0 || p.Fine+1 >= len(m.series) {
		return 0, fmt.Errorf("history: promote: tier %d has no coarser tier", p.Fine)
	}
	coarse := m.series[p.Fine+1][p.Key]
	for _, aggregate := range p.Aggregates {
		coarse = insertSorted(coarse, aggregate)
	}
	if len(coarse) > 0 {
		m.series[p.Fine+1][p.Key] = coarse
	}
	m.watermarks[watermarkKey{p.Key, p.Fine}] = p.Watermark

	fine := m.series[p.Fine][p.Key]
	cut := sort.Search(len(fine), func(i int) bool { return !fine[i].Start.Before(p.Watermark) })
	if cut > 0 {
		m.series[p.Fine][p.Key] = slices.Clone(fine[cut:])
	}
	return cut, nil
}

func (m *MemoryBackend) Prune(_ context.Context, tier int, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tier < 0 || tier >= len(m.series) {
		return 0, fmt.Errorf("history: prune: no tier %d", tier)
	}
	var deleted int
	for key, records := range m.series[tier] {
		cut := sort.Search(len(records), func(i int) bool { return !records[i].Start.Before(before) })
		if cut == 0 {
			continue
		}
		deleted += cut
		if cut == len(records) {
			delete(m.series[tier], key)
			continue
		}
		m.series[tier][key] = slices.Clone(records[cut:])
	}
	return deleted, nil
}

func (m *MemoryBackend) RegisterEntity(_ context.Context, info EntityInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entities[info.Key]; ok {
		if existing.FirstSeen.Before(info.FirstSeen) || info.FirstSeen.IsZero() {
			info.FirstSeen = existing.FirstSeen
		}
	}
	m.entities[info.Key] = info
	return nil
}

func (m *MemoryBackend) Entities(context.Context) ([]EntityInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EntityInfo, 0, len(m.entities))
	for _, info := range m.entities {
		out = append(out, info)
	}
	sortEntities(out)
	return out, nil
}

func sortEntities(entities []EntityInfo) {
	slices.SortFunc(entities, func(a, b EntityInfo) int {
		switch {
		case a.Key.Less(b.Key):
			return -1
		case b.Key.Less(a.Key):
			return 1
		}
		return 0
	})
}

func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) tierSeries(tier int, key sample.Key) ([]sample.RateRecord, error) {
	if tier < 0 || tier >= len(m.series) {
		return nil, fmt.Errorf("history: no tier %d", tier)
	}
	return m.series[tier][key], nil
}
