// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package delta turns two snapshots of the same entity into a rate
// record.
//
// [Compute] is a pure function. For each cumulative counter it takes
// the difference of the two readings and divides by the elapsed time;
// gauges are passed through. When the pair cannot produce a trustworthy
// record it returns an [*Unavailable] error naming the reason:
//
//   - NonMonotonicTime: the current snapshot is not strictly later.
//   - CounterReset: a counter went backwards by more than a plausible
//     wraparound. The whole record is dropped, never partially
//     reported.
//   - EntityVanished: a counter present before is missing now.
//
// Unavailable outcomes are local to one entity. Callers log them and
// keep the current snapshot as the next baseline.
package delta
