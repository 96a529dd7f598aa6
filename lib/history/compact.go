// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// CompactionStats summarizes one Compact call.
type CompactionStats struct {
	Entities int
	Promoted int
	Evicted  int
}

// Compact rolls every complete bucket that has aged out of a finer
// tier into the next coarser tier, for every entity and every adjacent
// pair of tiers, finest first. Running it twice without new appends
// changes nothing.
//
// A failure for one entity does not stop the others; the errors are
// joined.
func (s *Store) Compact(ctx context.Context) (CompactionStats, error) {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var stats CompactionStats
	if s.closed {
		return stats, ErrClosed
	}
	if len(s.tiers) < 2 || s.horizon.IsZero() {
		return stats, nil
	}

	entities, err := s.backend.Entities(ctx)
	if err != nil {
		return stats, err
	}

	var failures []error
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Entities++
		for fine := 0; fine < len(s.tiers)-1; fine++ {
			promoted, evicted, err := s.compactPair(ctx, entity.Key, fine)
			if err != nil {
				failures = append(failures, fmt.Errorf("compacting %s tier %s: %w", entity.Key, s.tiers[fine].Name, err))
				break
			}
			stats.Promoted += promoted
			stats.Evicted += evicted
		}
	}

	if stats.Promoted > 0 || stats.Evicted > 0 {
		s.logger.Debug("compaction finished",
			"entities", stats.Entities,
			"promoted", stats.Promoted,
			"evicted", stats.Evicted,
			"horizon", s.horizon,
		)
	}
	return stats, errors.Join(failures...)
}

// compactPair promotes the complete buckets of tier fine that end at
// or before horizon - Span(fine) and start at or after the watermark.
// A bucket straddling the watermark is promoted from the watermark on.
func (s *Store) compactPair(ctx context.Context, key sample.Key, fine int) (promoted, evicted int, err error) {
	fineTier, coarseTier := s.tiers[fine], s.tiers[fine+1]
	cutoff := s.horizon.Add(-fineTier.Span)

	watermark, err := s.backend.Watermark(ctx, key, fine)
	if err != nil {
		return 0, 0, err
	}
	records, err := s.backend.Scan(ctx, fine, key, time.Time{}, cutoff.Add(-time.Nanosecond), 0)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}

	var aggregates []sample.RateRecord
	newWatermark := watermark
	stale := false
	for i := 0; i < len(records); {
		start := bucketStart(records[i].Start, coarseTier.Interval)
		end := start.Add(coarseTier.Interval)
		if end.After(cutoff) {
			break
		}
		j := i
		for j < len(records) && records[j].Start.Before(end) {
			j++
		}
		if start.Before(watermark) {
			// The watermark falls inside this bucket when the coarse
			// interval changed since the last run. Records below it are
			// already in the coarser tier; the rest become a partial
			// bucket starting at the watermark.
			bucket := records[i:j]
			k := 0
			for k < len(bucket) && bucket[k].Start.Before(watermark) {
				k++
			}
			stale = stale || k > 0
			if k < len(bucket) {
				aggregates = append(aggregates, merge(coarseTier, key, watermark, end, bucket[k:]))
			}
		} else {
			aggregates = append(aggregates, merge(coarseTier, key, start, end, records[i:j]))
		}
		if end.After(newWatermark) {
			newWatermark = end
		}
		i = j
	}

	if len(aggregates) == 0 && !stale {
		return 0, 0, nil
	}
	evicted, err = s.backend.Promote(ctx, Promotion{
		Key:        key,
		Fine:       fine,
		Aggregates: aggregates,
		Watermark:  newWatermark,
	})
	if err != nil {
		return 0, 0, err
	}
	return len(aggregates), evicted, nil
}

// Prune deletes records that have aged beyond the coarsest tier's span
// and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.horizon.IsZero() {
		return 0, nil
	}
	coarsest := len(s.tiers) - 1
	before := s.horizon.Add(-s.tiers[coarsest].Span)
	deleted, err := s.backend.Prune(ctx, coarsest, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Debug("pruned expired records", "tier", s.tiers[coarsest].Name, "deleted", deleted, "before", before)
	}
	return deleted, nil
}
