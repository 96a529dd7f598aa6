// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// queryPageSize bounds how many records a query holds at once.
const queryPageSize = 512

// Request selects one entity's history over [From, To].
type Request struct {
	Key  sample.Key
	From time.Time
	To   time.Time

	// MaxPoints bounds the number of records returned. Zero or less
	// returns every retained record in range unmerged.
	MaxPoints int

	// Tier reads only the named tier instead of choosing by MaxPoints.
	Tier string
}

// SelectTier returns the coarsest tier whose interval still yields at
// least maxPoints buckets over [from, to]. When no tier is that fine,
// or maxPoints <= 0, it returns the finest tier.
func (s *Store) SelectTier(from, to time.Time, maxPoints int) int {
	if maxPoints <= 0 {
		return 0
	}
	span := to.Sub(from)
	for i := len(s.tiers) - 1; i > 0; i-- {
		if int64(span/s.tiers[i].Interval) >= int64(maxPoints) {
			return i
		}
	}
	return 0
}

// Query returns the records of req.Key whose Start lies in [From, To],
// ascending.
//
// Without req.Tier the result covers everything retained in range,
// whichever tier holds it. Each tier owns the records that start
// between its own compaction watermark and the watermark of the tier
// below, so the ladder is read oldest part first. Records of the
// selected tier and coarser ones come back as stored; records of finer
// tiers, which compaction has not reached yet, are rolled up into
// buckets of the selected tier on the fly. With req.Tier only that
// tier is read.
//
// When the result would hold more than MaxPoints records, consecutive
// runs are merged with the selected tier's aggregation so at most
// MaxPoints come back.
//
// The iterator reads the backend in pages and stops at the first
// error, which it yields with a zero record. Compact waits for a
// running iteration to finish.
func (s *Store) Query(ctx context.Context, req Request) (iter.Seq2[sample.RateRecord, error], error) {
	if req.From.After(req.To) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, req.From, req.To)
	}
	if req.Key.IsZero() {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRange)
	}

	target := s.SelectTier(req.From, req.To, req.MaxPoints)
	forced := req.Tier != ""
	if forced {
		target = TierIndex(s.tiers, req.Tier)
		if target < 0 {
			return nil, fmt.Errorf("history: unknown tier %q", req.Tier)
		}
	}
	tier := s.tiers[target]

	return func(yield func(sample.RateRecord, error) bool) {
		s.compactMu.RLock()
		defer s.compactMu.RUnlock()

		segments := []segment{{tier: target, from: req.From, to: req.To}}
		if !forced {
			var err error
			if segments, err = s.plan(ctx, req.Key, req.From, req.To); err != nil {
				yield(sample.RateRecord{}, err)
				return
			}
		}
		segments, err := s.clampNewest(ctx, req.Key, segments)
		if err != nil {
			yield(sample.RateRecord{}, err)
			return
		}

		group := 1
		if req.MaxPoints > 0 {
			total, err := s.estimate(ctx, req.Key, target, segments)
			if err != nil {
				yield(sample.RateRecord{}, err)
				return
			}
			if total > req.MaxPoints {
				group = (total + req.MaxPoints - 1) / req.MaxPoints
			}
		}

		var pending []sample.RateRecord
		emit := func(record sample.RateRecord) bool {
			if group == 1 {
				return yield(record, nil)
			}
			pending = append(pending, record)
			if len(pending) < group {
				return true
			}
			merged := merge(tier, req.Key, pending[0].Start, pending[len(pending)-1].End, pending)
			pending = pending[:0]
			return yield(merged, nil)
		}

		var bucket []sample.RateRecord
		var bucketEnd time.Time
		rollup := func() bool {
			if len(bucket) == 0 {
				return true
			}
			rolled := merge(tier, req.Key, bucket[0].Start, bucket[len(bucket)-1].End, bucket)
			bucket = bucket[:0]
			return emit(rolled)
		}

		for _, seg := range segments {
			for record, err := range s.scan(ctx, req.Key, seg) {
				if err != nil {
					yield(sample.RateRecord{}, err)
					return
				}
				if seg.tier >= target {
					if !rollup() || !emit(record) {
						return
					}
					continue
				}
				if len(bucket) > 0 && !record.Start.Before(bucketEnd) && !rollup() {
					return
				}
				if len(bucket) == 0 {
					bucketEnd = bucketStart(record.Start, tier.Interval).Add(tier.Interval)
				}
				bucket = append(bucket, record)
			}
		}
		if !rollup() {
			return
		}
		if len(pending) > 0 {
			yield(merge(tier, req.Key, pending[0].Start, pending[len(pending)-1].End, pending), nil)
		}
	}, nil
}

// segment is the part of a query range one tier answers. Both bounds
// are inclusive and apply to Start.
type segment struct {
	tier     int
	from, to time.Time
}

// plan splits [from, to] across the ladder, oldest segment first. Tier
// k holds the records of key that start in [W(k), W(k-1)), where W(k)
// is the watermark of the pair (k, k+1); the finest tier is unbounded
// above and the coarsest below. A tier that was never compacted owns
// everything older, so coarser tiers are not consulted.
func (s *Store) plan(ctx context.Context, key sample.Key, from, to time.Time) ([]segment, error) {
	var segments []segment
	upper := to
	for k := range s.tiers {
		var lower time.Time
		if k < len(s.tiers)-1 {
			watermark, err := s.backend.Watermark(ctx, key, k)
			if err != nil {
				return nil, err
			}
			lower = watermark
		}
		lo := from
		if lower.After(lo) {
			lo = lower
		}
		if !upper.Before(lo) {
			segments = append(segments, segment{tier: k, from: lo, to: upper})
		}
		if lower.IsZero() {
			break
		}
		if next := lower.Add(-time.Nanosecond); next.Before(upper) {
			upper = next
		}
	}
	slices.Reverse(segments)
	return segments, nil
}

// clampNewest ends the newest segment at the last record its tier held
// when the query started, so appends that land mid-iteration neither
// show up nor break the MaxPoints bound.
func (s *Store) clampNewest(ctx context.Context, key sample.Key, segments []segment) ([]segment, error) {
	if len(segments) == 0 {
		return segments, nil
	}
	newest := &segments[len(segments)-1]
	last, found, err := s.backend.Last(ctx, newest.tier, key)
	if err != nil {
		return nil, err
	}
	if found && last.Start.Before(newest.to) {
		newest.to = last.Start
	}
	if !found || newest.to.Before(newest.from) {
		segments = segments[:len(segments)-1]
	}
	return segments, nil
}

// estimate bounds from above how many records Query produces before
// grouping. Records of the selected tier and coarser ones count one
// each. Finer records count one per bucket of the selected tier between
// the first and the last of them, but never more than there are
// records.
func (s *Store) estimate(ctx context.Context, key sample.Key, target int, segments []segment) (int, error) {
	var total, fine int
	var first, last time.Time
	for _, seg := range segments {
		count, err := s.backend.Count(ctx, seg.tier, key, seg.from, seg.to)
		if err != nil {
			return 0, err
		}
		if seg.tier >= target {
			total += count
			continue
		}
		if count == 0 {
			continue
		}
		fine += count
		if first.IsZero() {
			head, err := s.backend.Scan(ctx, seg.tier, key, seg.from, seg.to, 1)
			if err != nil {
				return 0, err
			}
			if len(head) > 0 {
				first = head[0].Start
			}
		}
		last = seg.to
	}
	if fine == 0 {
		return total, nil
	}
	if first.IsZero() {
		return total + fine, nil
	}
	interval := s.tiers[target].Interval
	buckets := int(bucketStart(last, interval).Sub(bucketStart(first, interval))/interval) + 1
	return total + min(fine, buckets), nil
}

// scan pages through one segment.
func (s *Store) scan(ctx context.Context, key sample.Key, seg segment) iter.Seq2[sample.RateRecord, error] {
	return func(yield func(sample.RateRecord, error) bool) {
		cursor := seg.from
		for {
			page, err := s.backend.Scan(ctx, seg.tier, key, cursor, seg.to, queryPageSize)
			if err != nil {
				yield(sample.RateRecord{}, err)
				return
			}
			for _, record := range page {
				if !yield(record, nil) {
					return
				}
			}
			if len(page) < queryPageSize {
				return
			}
			cursor = page[len(page)-1].Start.Add(time.Nanosecond)
		}
	}
}

// Collect drains a query iterator into a slice.
func Collect(records iter.Seq2[sample.RateRecord, error]) ([]sample.RateRecord, error) {
	var out []sample.RateRecord
	for record, err := range records {
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}
