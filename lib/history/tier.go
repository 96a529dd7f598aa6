// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// Aggregation names how a run of records collapses into one.
type Aggregation string

const (
	// Mean is the duration-weighted average rate.
	Mean Aggregation = "mean"
	Max  Aggregation = "max"
	Min  Aggregation = "min"
	// Sum adds rates. Useful for counters already expressed per bucket.
	Sum Aggregation = "sum"
	// Last keeps the rate of the latest record.
	Last Aggregation = "last"
)

// Valid reports whether a is one of the known aggregations.
func (a Aggregation) Valid() bool {
	switch a {
	case Mean, Max, Min, Sum, Last:
		return true
	}
	return false
}

// ParseAggregation accepts the lowercase names. The empty string
// means Mean.
func ParseAggregation(name string) (Aggregation, error) {
	if name == "" {
		return Mean, nil
	}
	a := Aggregation(name)
	if !a.Valid() {
		return "", fmt.Errorf("history: unknown aggregation %q", name)
	}
	return a, nil
}

// Tier is one rung of the resolution ladder.
type Tier struct {
	// Name identifies the tier in queries and in the SQLite table
	// name (rates_<name>). Lowercase letters, digits, underscore.
	Name string

	// Interval is the bucket width. For the finest tier it is the
	// nominal sampling interval and is not enforced on appends.
	Interval time.Duration

	// Span is how far behind the horizon records stay in this tier
	// before they are compacted into the next one (or pruned, for the
	// coarsest tier).
	Span time.Duration

	// Aggregation applies to every counter without an override. The
	// zero value means Mean.
	Aggregation Aggregation

	// Overrides maps counter names to a different aggregation.
	Overrides map[string]Aggregation
}

// AggregationFor returns the aggregation used for the named counter.
func (t Tier) AggregationFor(counter string) Aggregation {
	if a, ok := t.Overrides[counter]; ok {
		return a
	}
	if t.Aggregation == "" {
		return Mean
	}
	return t.Aggregation
}

// DefaultLadder keeps one-second records for an hour, one-minute
// records for two days and hourly records for ninety days.
func DefaultLadder() []Tier {
	return []Tier{
		{Name: "raw", Interval: time.Second, Span: time.Hour, Aggregation: Mean},
		{Name: "minute", Interval: time.Minute, Span: 48 * time.Hour, Aggregation: Mean},
		{Name: "hour", Interval: time.Hour, Span: 90 * 24 * time.Hour, Aggregation: Mean},
	}
}

var tierNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateLadder checks that the ladder is non-empty, names are unique
// identifiers, intervals strictly increase and every span covers at
// least one interval.
func ValidateLadder(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidLadder)
	}
	seen := make(map[string]bool, len(tiers))
	for i, tier := range tiers {
		if !tierNamePattern.MatchString(tier.Name) {
			return fmt.Errorf("%w: tier %d: name %q must match %s", ErrInvalidLadder, i, tier.Name, tierNamePattern)
		}
		if seen[tier.Name] {
			return fmt.Errorf("%w: duplicate tier name %q", ErrInvalidLadder, tier.Name)
		}
		seen[tier.Name] = true
		if tier.Interval <= 0 {
			return fmt.Errorf("%w: tier %s: interval must be positive", ErrInvalidLadder, tier.Name)
		}
		if tier.Span < tier.Interval {
			return fmt.Errorf("%w: tier %s: span %s is shorter than interval %s", ErrInvalidLadder, tier.Name, tier.Span, tier.Interval)
		}
		if tier.Aggregation != "" && !tier.Aggregation.Valid() {
			return fmt.Errorf("%w: tier %s: unknown aggregation %q", ErrInvalidLadder, tier.Name, tier.Aggregation)
		}
		for counter, a := range tier.Overrides {
			if !a.Valid() {
				return fmt.Errorf("%w: tier %s: counter %s: unknown aggregation %q", ErrInvalidLadder, tier.Name, counter, a)
			}
		}
		if i > 0 && tier.Interval <= tiers[i-1].Interval {
			return fmt.Errorf("%w: tier %s: interval %s must exceed %s of tier %s",
				ErrInvalidLadder, tier.Name, tier.Interval, tiers[i-1].Interval, tiers[i-1].Name)
		}
	}
	return nil
}

// TierIndex returns the position of the named tier, or -1.
func TierIndex(tiers []Tier, name string) int {
	return slices.IndexFunc(tiers, func(t Tier) bool { return t.Name == name })
}

// bucketStart aligns t down to a multiple of interval since the Unix
// epoch.
func bucketStart(t time.Time, interval time.Duration) time.Time {
	n := t.UnixNano()
	width := int64(interval)
	aligned := n - n%width
	if n%width < 0 {
		aligned -= width
	}
	return time.Unix(0, aligned).UTC()
}

// merge collapses records (ascending, one entity) into a single record
// spanning [start, end) using the tier's aggregation rules. Samples is
// the sum of the inputs' sample counts.
func merge(tier Tier, key sample.Key, start, end time.Time, records []sample.RateRecord) sample.RateRecord {
	out := sample.RateRecord{
		Key:   key,
		Start: start,
		End:   end,
		Rates: make(map[string]float64),
	}

	names := make(map[string]struct{})
	for _, r := range records {
		out.Samples += r.Samples
		for name := range r.Rates {
			names[name] = struct{}{}
		}
	}

	for name := range names {
		out.Rates[name] = combine(tier.AggregationFor(name), name, records)
	}
	return out
}

func combine(a Aggregation, name string, records []sample.RateRecord) float64 {
	switch a {
	case Max:
		result := math.Inf(-1)
		for _, r := range records {
			if v, ok := r.Rates[name]; ok && v > result {
				result = v
			}
		}
		return result
	case Min:
		result := math.Inf(1)
		for _, r := range records {
			if v, ok := r.Rates[name]; ok && v < result {
				result = v
			}
		}
		return result
	case Sum:
		var result float64
		for _, r := range records {
			result += r.Rates[name]
		}
		return result
	case Last:
		for i := len(records) - 1; i >= 0; i-- {
			if v, ok := records[i].Rates[name]; ok {
				return v
			}
		}
		return 0
	default:
		var weighted, total, plain float64
		var count int
		for _, r := range records {
			v, ok := r.Rates[name]
			if !ok {
				continue
			}
			d := r.Duration().Seconds()
			weighted += v * d
			total += d
			plain += v
			count++
		}
		if total > 0 {
			return weighted / total
		}
		return plain / float64(count)
	}
}
