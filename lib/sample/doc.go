// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sample defines the raw readings hostwatch works from: entity
// keys, counters, and snapshots.
//
// A [Snapshot] is one timestamped reading of an entity's kernel
// counters. Snapshots are produced by sources (lib/procfs, or a test
// fake), paired by the scheduler with the previous snapshot of the same
// entity, and turned into rates by lib/delta. Nothing in this package
// knows how counters are read or what kind of hardware an entity is.
package sample
