// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

func openSQLiteStore(t *testing.T, path string, tiers []history.Tier) (*history.Store, error) {
	t.Helper()
	backend, err := history.OpenSQLite(history.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store, err := history.NewStore(context.Background(), history.Config{Backend: backend, Tiers: tiers})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

func TestSQLiteSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := openSQLiteStore(t, path, minuteLadder())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendSeconds(t, store, cpu0, 120)
	if _, err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = openSQLiteStore(t, path, minuteLadder())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	if got := store.Horizon(); !got.Equal(epoch.Add(120 * time.Second)) {
		t.Errorf("Horizon after reopen = %s, want %s", got, epoch.Add(120*time.Second))
	}

	// The last start survives the restart, so replays are rejected.
	err = store.Append(ctx, record(cpu0, 119, nil))
	if !errors.Is(err, history.ErrOutOfOrderWrite) {
		t.Errorf("replayed Append error = %v, want ErrOutOfOrderWrite", err)
	}
	if err := store.Append(ctx, record(cpu0, 120, map[string]float64{"busy": 1})); err != nil {
		t.Errorf("Append after reopen: %v", err)
	}

	if got := len(tierRecords(t, store, "raw")); got != 61 {
		t.Errorf("raw tier holds %d records, want 61", got)
	}
	if got := len(tierRecords(t, store, "minute")); got != 1 {
		t.Errorf("minute tier holds %d records, want 1", got)
	}

	// Compaction state persisted too: nothing is promoted twice.
	stats, err := store.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact after reopen: %v", err)
	}
	if stats.Promoted != 0 {
		t.Errorf("Compact after reopen promoted %d buckets, want 0", stats.Promoted)
	}
}

func TestSQLiteLadderIsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	tiers := minuteLadder()
	tiers[1].Overrides = map[string]history.Aggregation{"peak": history.Max}

	store, err := openSQLiteStore(t, path, tiers)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store.Close()

	store, err = openSQLiteStore(t, path, nil)
	if err != nil {
		t.Fatalf("reopen without ladder: %v", err)
	}
	loaded := store.Tiers()
	store.Close()

	if len(loaded) != 2 || loaded[0].Name != "raw" || loaded[1].Name != "minute" {
		t.Fatalf("loaded ladder = %+v", loaded)
	}
	if loaded[1].Interval != time.Minute || loaded[1].Span != time.Hour {
		t.Errorf("minute tier = %+v", loaded[1])
	}
	if loaded[1].AggregationFor("peak") != history.Max {
		t.Errorf("override lost: %+v", loaded[1].Overrides)
	}

	_, err = openSQLiteStore(t, path, history.DefaultLadder())
	if !errors.Is(err, history.ErrInvalidLadder) {
		t.Errorf("mismatched ladder error = %v, want ErrInvalidLadder", err)
	}
}

func TestSQLiteEmptyDatabaseNeedsLadder(t *testing.T) {
	_, err := openSQLiteStore(t, filepath.Join(t.TempDir(), "history.db"), nil)
	if !errors.Is(err, history.ErrInvalidLadder) {
		t.Errorf("error = %v, want ErrInvalidLadder", err)
	}
}

func TestSQLiteCoarseIntervalChangeKeepsEverySample(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	appendRange := func(store *history.Store, from, to int) {
		for i := from; i < to; i++ {
			if err := store.Append(ctx, record(cpu0, i, map[string]float64{"busy": float64(i)})); err != nil {
				t.Fatalf("Append(%d): %v", i, err)
			}
		}
	}

	store, err := openSQLiteStore(t, path, minuteLadder())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendRange(store, 0, 180)
	if _, err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	store.Close()

	// The watermark (2m) now falls inside the first five-minute bucket.
	widened := minuteLadder()
	widened[1].Interval = 5 * time.Minute
	store, err = openSQLiteStore(t, path, widened)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	appendRange(store, 180, 800)

	stats, err := store.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact after reopen: %v", err)
	}
	if stats.Promoted != 2 || stats.Evicted != 480 {
		t.Errorf("stats = %+v, want 2 promoted and 480 evicted", stats)
	}

	minute := tierRecords(t, store, "minute")
	if len(minute) != 4 {
		t.Fatalf("minute tier holds %d records, want 4", len(minute))
	}
	partial := minute[2]
	if !partial.Start.Equal(epoch.Add(2*time.Minute)) || !partial.End.Equal(epoch.Add(5*time.Minute)) {
		t.Errorf("partial bucket covers [%s, %s), want [2m, 5m)", partial.Start, partial.End)
	}
	if partial.Samples != 180 || partial.Rates["busy"] != 209.5 {
		t.Errorf("partial bucket = %d samples, mean %v; want 180, 209.5", partial.Samples, partial.Rates["busy"])
	}

	var samples int
	for _, r := range queryAll(t, store, history.Request{Key: cpu0, From: epoch, To: epoch.Add(800 * time.Second)}) {
		samples += r.Samples
	}
	if samples != 800 {
		t.Errorf("history holds %d samples, want all 800", samples)
	}
}

func TestSQLiteRestartRejectsStartsBelowWatermark(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	cpu1 := sample.Key{Class: "cpu", ID: "cpu1"}

	store, err := openSQLiteStore(t, path, minuteLadder())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := range 10 {
		if err := store.Append(ctx, record(cpu0, i, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for i := range 180 {
		if err := store.Append(ctx, record(cpu1, i, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := len(tierRecords(t, store, "raw")); got != 0 {
		t.Fatalf("cpu0 keeps %d raw records, want all rolled up", got)
	}
	store.Close()

	store, err = openSQLiteStore(t, path, minuteLadder())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	err = store.Append(ctx, record(cpu0, 30, nil))
	if !errors.Is(err, history.ErrOutOfOrderWrite) {
		t.Errorf("Append below the watermark error = %v, want ErrOutOfOrderWrite", err)
	}
	if err := store.Append(ctx, record(cpu0, 60, nil)); err != nil {
		t.Errorf("Append at the watermark: %v", err)
	}
}
