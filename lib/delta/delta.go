// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"github.com/hostwatch/hostwatch/lib/sample"
)

// Compute derives the per-second rates between previous and current.
// Both snapshots must belong to the same entity and current must be
// strictly later. The returned record covers [previous.Time,
// current.Time) and has Samples == 1.
//
// Counters present only in current are ignored for this interval; they
// get a baseline from current and appear in the next record.
func Compute(previous, current sample.Snapshot) (sample.RateRecord, error) {
	if previous.Key != current.Key {
		return sample.RateRecord{}, &Unavailable{Key: current.Key, Reason: KeyMismatch}
	}
	// time.Time.After and Sub use the monotonic reading when both
	// values have one.
	if !current.Time.After(previous.Time) {
		return sample.RateRecord{}, &Unavailable{Key: current.Key, Reason: NonMonotonicTime}
	}
	elapsed := current.Time.Sub(previous.Time).Seconds()

	rates := make(map[string]float64, len(previous.Counters))
	for _, before := range previous.Counters {
		after, ok := current.Counter(before.Name)
		if !ok {
			return sample.RateRecord{}, &Unavailable{Key: current.Key, Reason: EntityVanished, Counter: before.Name}
		}

		if after.Spec.Kind == sample.Gauge {
			rates[before.Name] = float64(after.Value) / after.Spec.EffectiveScale()
			continue
		}

		raw, ok := counterDelta(before.Value, after.Value, after.Spec, elapsed)
		if !ok {
			return sample.RateRecord{}, &Unavailable{Key: current.Key, Reason: CounterReset, Counter: before.Name}
		}
		rates[before.Name] = float64(raw) / elapsed / after.Spec.EffectiveScale()
	}

	return sample.RateRecord{
		Key:     current.Key,
		Start:   previous.Time,
		End:     current.Time,
		Rates:   rates,
		Samples: 1,
	}, nil
}

// counterDelta returns the increase from before to after. A decrease
// is reinterpreted as a wraparound modulo 2^width; the wrap is accepted
// only if the modular delta is within spec.MaxDelta and, when set, the
// implied rate is within spec.MaxRate. Otherwise the counter was reset
// and ok is false.
func counterDelta(before, after uint64, spec sample.CounterSpec, elapsedSeconds float64) (delta uint64, ok bool) {
	if after >= before {
		return after - before, true
	}

	width := spec.EffectiveWidth()
	var wrapped uint64
	if width == 64 {
		wrapped = after - before // uint64 arithmetic is already modular
	} else {
		modulus := uint64(1) << width
		// A reading at or above the declared modulus means the
		// counter is wider than declared; modular reinterpretation
		// is meaningless.
		if before >= modulus || after >= modulus {
			return 0, false
		}
		wrapped = modulus - before + after
	}

	if wrapped > spec.EffectiveMaxDelta() {
		return 0, false
	}
	if spec.MaxRate > 0 && float64(wrapped)/elapsedSeconds > spec.MaxRate {
		return 0, false
	}
	return wrapped, true
}
