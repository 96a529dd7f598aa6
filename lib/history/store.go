// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// Config holds the parameters for NewStore.
type Config struct {
	Backend Backend

	// Tiers is the resolution ladder, finest first. Empty means use the
	// ladder the backend was created with.
	Tiers []Tier

	// Clock stamps FirstSeen on registrations that carry none. Nil
	// means the real clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Store is the tiered history of rate records. Writes (Append,
// Register, Compact, Prune) are serialized; reads may run concurrently
// with them.
type Store struct {
	backend Backend
	tiers   []Tier
	clock   clock.Clock
	logger  *slog.Logger

	// compactMu keeps Compact from moving records between tiers while
	// a query iterates over them. Compact takes it before writeMu.
	compactMu sync.RWMutex

	// writeMu serializes writers and guards lastStart and horizon.
	writeMu   sync.Mutex
	lastStart map[sample.Key]time.Time
	horizon   time.Time
	closed    bool

	subscribers subscribers
}

// NewStore initializes the backend for the ladder and loads the
// horizon.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("history: Backend is required")
	}
	if len(cfg.Tiers) > 0 {
		if err := ValidateLadder(cfg.Tiers); err != nil {
			return nil, err
		}
	}
	tiers, err := cfg.Backend.Init(ctx, cfg.Tiers)
	if err != nil {
		return nil, err
	}
	horizon, err := cfg.Backend.Horizon(ctx)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Store{
		backend:   cfg.Backend,
		tiers:     tiers,
		clock:     clk,
		logger:    logger,
		lastStart: make(map[sample.Key]time.Time),
		horizon:   horizon,
	}, nil
}

// Tiers returns a copy of the ladder in use.
func (s *Store) Tiers() []Tier {
	return slices.Clone(s.tiers)
}

// Horizon returns the latest End appended to any entity.
func (s *Store) Horizon() time.Time {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.horizon
}

// Append adds a record to the finest tier. The record must start
// strictly after the entity's previous record; otherwise Append returns
// an *OutOfOrderError and stores nothing.
func (s *Store) Append(ctx context.Context, record sample.RateRecord) error {
	if err := validate(record); err != nil {
		return err
	}
	record.Start = record.Start.Round(0)
	record.End = record.End.Round(0)
	if record.Samples <= 0 {
		record.Samples = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	last, known := s.lastStart[record.Key]
	if !known {
		var err error
		if last, known, err = s.seedLastStart(ctx, record.Key); err != nil {
			return err
		}
	}
	if known && !record.Start.After(last) {
		return &OutOfOrderError{Key: record.Key, Start: record.Start, Last: last}
	}

	if err := s.backend.Insert(ctx, record); err != nil {
		return err
	}
	s.lastStart[record.Key] = record.Start
	if record.End.After(s.horizon) {
		s.horizon = record.End
	}

	s.subscribers.publish(record)
	return nil
}

// seedLastStart recovers the newest accepted start of key from the
// backend. When compaction has rolled up every finest record, the
// finest watermark bounds it instead: a record may start exactly at the
// watermark but not before.
func (s *Store) seedLastStart(ctx context.Context, key sample.Key) (time.Time, bool, error) {
	var last time.Time
	known := false
	previous, found, err := s.backend.Last(ctx, 0, key)
	if err != nil {
		return last, false, err
	}
	if found {
		last, known = previous.Start, true
	}
	if len(s.tiers) > 1 {
		watermark, err := s.backend.Watermark(ctx, key, 0)
		if err != nil {
			return last, false, err
		}
		if floor := watermark.Add(-time.Nanosecond); !watermark.IsZero() && (!known || floor.After(last)) {
			last, known = floor, true
		}
	}
	return last, known, nil
}

func validate(record sample.RateRecord) error {
	if record.Key.IsZero() {
		return fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	if !record.End.After(record.Start) {
		return fmt.Errorf("%w: %s: end %s is not after start %s", ErrInvalidRecord, record.Key, record.End, record.Start)
	}
	for name, rate := range record.Rates {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return fmt.Errorf("%w: %s: counter %s has rate %v", ErrInvalidRecord, record.Key, name, rate)
		}
	}
	return nil
}

// Register records an entity and its tag. Registering again updates
// the tag and keeps the original FirstSeen.
func (s *Store) Register(ctx context.Context, info EntityInfo) error {
	if info.Key.IsZero() {
		return fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	if info.FirstSeen.IsZero() {
		info.FirstSeen = s.clock.Now()
	}
	info.FirstSeen = info.FirstSeen.Round(0)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.backend.RegisterEntity(ctx, info)
}

// Entities lists every entity that was registered or has records,
// ordered by key.
func (s *Store) Entities(ctx context.Context) ([]EntityInfo, error) {
	return s.backend.Entities(ctx)
}

// Latest returns the most recent finest-tier record of key.
func (s *Store) Latest(ctx context.Context, key sample.Key) (sample.RateRecord, bool, error) {
	return s.backend.Last(ctx, 0, key)
}

// LatestAll returns the most recent finest-tier record of every entity
// that has one, ordered by key.
func (s *Store) LatestAll(ctx context.Context) ([]sample.RateRecord, error) {
	entities, err := s.backend.Entities(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]sample.RateRecord, 0, len(entities))
	for _, entity := range entities {
		record, found, err := s.backend.Last(ctx, 0, entity.Key)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, record)
		}
	}
	return records, nil
}

// Watermarks returns the compaction watermark of key for every tier
// that has a coarser neighbor. Zero times mean nothing was promoted.
func (s *Store) Watermarks(ctx context.Context, key sample.Key) ([]time.Time, error) {
	watermarks := make([]time.Time, len(s.tiers)-1)
	for i := range watermarks {
		watermark, err := s.backend.Watermark(ctx, key, i)
		if err != nil {
			return nil, err
		}
		watermarks[i] = watermark
	}
	return watermarks, nil
}

// Close ends every subscription and closes the backend.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.subscribers.closeAll()
	return s.backend.Close()
}
