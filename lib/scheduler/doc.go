// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler drives sampling: once per interval it enumerates
// entities from every source, acquires their snapshots concurrently,
// turns consecutive snapshots into rate records with lib/delta, and
// appends them to the history store. Every CompactEvery ticks it runs
// compaction and pruning.
//
// The scheduler owns the previous-snapshot state as an explicit map, so
// independent schedulers (for example one per test) never share state.
// Tick is the only place that reads or writes that map and must not be
// called concurrently.
//
// The scheduler degrades instead of halting. A failing source, a
// failing acquisition or a failing append is logged and counted; Run
// returns only when its context ends.
package scheduler
