// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package history stores rate records in a ladder of resolution tiers.
//
// Every record enters the finest tier (tier 0). Compaction rolls
// complete buckets of a finer tier into one record of the next coarser
// tier once they fall out of the finer tier's span, then evicts the
// rolled-up records. Pruning drops records that age out of the
// coarsest tier. Age is measured against the store horizon: the latest
// end time appended to any entity. Entities that stop reporting age
// out with everything else.
//
// A bucket of coarse tier k covers [n*Interval, (n+1)*Interval) in Unix
// time. Each (entity, tier) pair has a watermark: every finer record
// that starts before it has already been rolled up. Promoting a batch
// of buckets, advancing the watermark, and evicting the finer records
// below it is one atomic backend operation, so a crash mid-compaction
// leaves either the old state or the new one and a rerun never
// double-counts.
//
// Two backends are provided. MemoryBackend keeps everything in process
// memory. SQLiteBackend keeps one table per tier in a database opened
// through lib/sqlitepool, with rate maps encoded as deterministic CBOR.
//
// Query picks the coarsest tier that still yields MaxPoints records
// for the requested range and merges consecutive records with the
// tier's aggregation when the range holds more than that.
package history
