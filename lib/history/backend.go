// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// EntityInfo describes a registered entity. Tag is an opaque label
// assigned by the classifier ("physical-nic", "partition", ...).
type EntityInfo struct {
	Key       sample.Key
	Tag       string
	FirstSeen time.Time
}

// Promotion rolls complete buckets of tier Fine into tier Fine+1 for
// one entity. Backends apply it atomically: insert Aggregates into the
// coarser tier (ignoring buckets already present), set the watermark of
// (Key, Fine) to Watermark, and delete Fine records of Key that start
// before Watermark.
type Promotion struct {
	Key        sample.Key
	Fine       int
	Aggregates []sample.RateRecord
	Watermark  time.Time
}

// Backend is the persistence layer under Store. Store serializes all
// writes; backends must still tolerate concurrent readers.
//
// Records passed in are immutable and backends may retain them.
// Records returned are ordered by Start ascending.
type Backend interface {
	// Init prepares storage for the ladder and returns the effective
	// ladder. An empty ladder asks the backend for the one it was
	// created with.
	Init(ctx context.Context, tiers []Tier) ([]Tier, error)

	// Insert adds a finest-tier record and registers its entity with an
	// empty tag if it is not yet known.
	Insert(ctx context.Context, record sample.RateRecord) error

	// Last returns the latest record of key in tier.
	Last(ctx context.Context, tier int, key sample.Key) (sample.RateRecord, bool, error)

	// Horizon returns the latest End in the finest tier, or the zero
	// time when it is empty.
	Horizon(ctx context.Context) (time.Time, error)

	// Scan returns records of key in tier with Start in [from, to]. A
	// zero from means unbounded below. limit <= 0 means no limit.
	Scan(ctx context.Context, tier int, key sample.Key, from, to time.Time, limit int) ([]sample.RateRecord, error)

	// Count returns how many records Scan would return without a limit.
	Count(ctx context.Context, tier int, key sample.Key, from, to time.Time) (int, error)

	// Watermark returns the compaction watermark of (key, tier), or the
	// zero time.
	Watermark(ctx context.Context, key sample.Key, tier int) (time.Time, error)

	// Promote applies p atomically and returns the number of evicted
	// records.
	Promote(ctx context.Context, p Promotion) (int, error)

	// Prune deletes every record in tier that starts before the cutoff,
	// across all entities, and returns how many were deleted.
	Prune(ctx context.Context, tier int, before time.Time) (int, error)

	// RegisterEntity records or updates an entity's tag. FirstSeen keeps
	// the earliest value ever registered.
	RegisterEntity(ctx context.Context, info EntityInfo) error

	// Entities lists known entities ordered by key.
	Entities(ctx context.Context) ([]EntityInfo, error)

	Close() error
}
