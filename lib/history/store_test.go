// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// epoch is aligned to every interval used in these tests.
var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var cpu0 = sample.Key{Class: "cpu", ID: "cpu0"}

func minuteLadder() []history.Tier {
	return []history.Tier{
		{Name: "raw", Interval: time.Second, Span: time.Minute},
		{Name: "minute", Interval: time.Minute, Span: time.Hour},
	}
}

type backendFactory func(t *testing.T) history.Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) history.Backend {
			return history.NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) history.Backend {
			backend, err := history.OpenSQLite(history.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "history.db"),
			})
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return backend
		},
	}
}

// forEachBackend runs test once per backend with a fresh store.
func forEachBackend(t *testing.T, tiers []history.Tier, test func(t *testing.T, store *history.Store)) {
	t.Helper()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store, err := history.NewStore(context.Background(), history.Config{
				Backend: factory(t),
				Tiers:   tiers,
				Clock:   clock.Fake(epoch),
			})
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			t.Cleanup(func() {
				if err := store.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			})
			test(t, store)
		})
	}
}

func record(key sample.Key, second int, rates map[string]float64) sample.RateRecord {
	return sample.RateRecord{
		Key:     key,
		Start:   epoch.Add(time.Duration(second) * time.Second),
		End:     epoch.Add(time.Duration(second+1) * time.Second),
		Rates:   rates,
		Samples: 1,
	}
}

func appendSeconds(t *testing.T, store *history.Store, key sample.Key, count int) {
	t.Helper()
	for i := range count {
		if err := store.Append(context.Background(), record(key, i, map[string]float64{"busy": float64(i)})); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
}

func queryAll(t *testing.T, store *history.Store, req history.Request) []sample.RateRecord {
	t.Helper()
	results, err := store.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	records, err := history.Collect(results)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return records
}

func tierRecords(t *testing.T, store *history.Store, tier string) []sample.RateRecord {
	t.Helper()
	return queryAll(t, store, history.Request{
		Key:  cpu0,
		From: epoch.Add(-24 * time.Hour),
		To:   epoch.Add(24 * time.Hour),
		Tier: tier,
	})
}

func TestAppendAndQuery(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		appendSeconds(t, store, cpu0, 5)

		records := queryAll(t, store, history.Request{Key: cpu0, From: epoch, To: epoch.Add(4 * time.Second)})
		if len(records) != 5 {
			t.Fatalf("got %d records, want 5", len(records))
		}
		for i, r := range records {
			if !r.Start.Equal(epoch.Add(time.Duration(i) * time.Second)) {
				t.Errorf("record %d starts at %s", i, r.Start)
			}
			if r.Rates["busy"] != float64(i) {
				t.Errorf("record %d busy = %v, want %d", i, r.Rates["busy"], i)
			}
		}

		// Start bounds are inclusive on both ends.
		records = queryAll(t, store, history.Request{Key: cpu0, From: epoch.Add(time.Second), To: epoch.Add(3 * time.Second)})
		if len(records) != 3 {
			t.Errorf("inner range: got %d records, want 3", len(records))
		}

		if got := store.Horizon(); !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("Horizon = %s, want %s", got, epoch.Add(5*time.Second))
		}
	})
}

func TestAppendOutOfOrder(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		if err := store.Append(ctx, record(cpu0, 10, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}

		for _, second := range []int{10, 9} {
			err := store.Append(ctx, record(cpu0, second, nil))
			if !errors.Is(err, history.ErrOutOfOrderWrite) {
				t.Errorf("Append(start %ds) error = %v, want ErrOutOfOrderWrite", second, err)
			}
			var outOfOrder *history.OutOfOrderError
			if !errors.As(err, &outOfOrder) || !outOfOrder.Last.Equal(epoch.Add(10*time.Second)) {
				t.Errorf("Append(start %ds) error = %#v, want Last at 10s", second, err)
			}
		}

		if records := tierRecords(t, store, "raw"); len(records) != 1 {
			t.Errorf("stored %d records after rejected writes, want 1", len(records))
		}

		// Other entities are independent.
		other := sample.Key{Class: "cpu", ID: "cpu1"}
		if err := store.Append(ctx, record(other, 0, nil)); err != nil {
			t.Errorf("Append for a second entity: %v", err)
		}
	})
}

func TestAppendRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		record sample.RateRecord
	}{
		{"zero key", record(sample.Key{}, 0, nil)},
		{"empty interval", sample.RateRecord{Key: cpu0, Start: epoch, End: epoch}},
		{"negative rate", record(cpu0, 0, map[string]float64{"busy": -1})},
		{"NaN rate", record(cpu0, 0, map[string]float64{"busy": math.NaN()})},
		{"infinite rate", record(cpu0, 0, map[string]float64{"busy": math.Inf(1)})},
	}
	store, err := history.NewStore(context.Background(), history.Config{
		Backend: history.NewMemoryBackend(),
		Tiers:   minuteLadder(),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := store.Append(context.Background(), test.record)
			if !errors.Is(err, history.ErrInvalidRecord) {
				t.Errorf("Append error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestRetentionRollsMinuteBucket(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		appendSeconds(t, store, cpu0, 120)

		stats, err := store.Compact(ctx)
		if err != nil {
			t.Fatalf("Compact: %v", err)
		}
		if stats.Promoted != 1 || stats.Evicted != 60 {
			t.Errorf("stats = %+v, want 1 promoted and 60 evicted", stats)
		}

		raw := tierRecords(t, store, "raw")
		if len(raw) != 60 {
			t.Fatalf("raw tier holds %d records, want 60", len(raw))
		}
		if !raw[0].Start.Equal(epoch.Add(time.Minute)) {
			t.Errorf("oldest raw record starts at %s, want %s", raw[0].Start, epoch.Add(time.Minute))
		}

		minute := tierRecords(t, store, "minute")
		if len(minute) != 1 {
			t.Fatalf("minute tier holds %d records, want 1", len(minute))
		}
		rolled := minute[0]
		if !rolled.Start.Equal(epoch) || !rolled.End.Equal(epoch.Add(time.Minute)) {
			t.Errorf("rolled record covers [%s, %s), want the first minute", rolled.Start, rolled.End)
		}
		if rolled.Samples != 60 {
			t.Errorf("Samples = %d, want 60", rolled.Samples)
		}
		if rolled.Rates["busy"] != 29.5 {
			t.Errorf("mean busy = %v, want 29.5", rolled.Rates["busy"])
		}

		watermarks, err := store.Watermarks(ctx, cpu0)
		if err != nil {
			t.Fatalf("Watermarks: %v", err)
		}
		if len(watermarks) != 1 || !watermarks[0].Equal(epoch.Add(time.Minute)) {
			t.Errorf("watermarks = %v, want [%s]", watermarks, epoch.Add(time.Minute))
		}
	})
}

func TestCompactIsIdempotent(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		appendSeconds(t, store, cpu0, 150)

		if _, err := store.Compact(ctx); err != nil {
			t.Fatalf("first Compact: %v", err)
		}
		before := len(tierRecords(t, store, "raw"))

		stats, err := store.Compact(ctx)
		if err != nil {
			t.Fatalf("second Compact: %v", err)
		}
		if stats.Promoted != 0 || stats.Evicted != 0 {
			t.Errorf("second Compact stats = %+v, want no work", stats)
		}
		if after := len(tierRecords(t, store, "raw")); after != before {
			t.Errorf("raw records changed from %d to %d", before, after)
		}
		if minute := tierRecords(t, store, "minute"); len(minute) != 1 {
			t.Errorf("minute tier holds %d records, want 1", len(minute))
		}
	})
}

func TestCompactAppliesOverrides(t *testing.T) {
	tiers := minuteLadder()
	tiers[1].Overrides = map[string]history.Aggregation{"peak": history.Max}
	forEachBackend(t, tiers, func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		for i := range 120 {
			rates := map[string]float64{"peak": float64(i % 7), "busy": 1}
			if err := store.Append(ctx, record(cpu0, i, rates)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		if _, err := store.Compact(ctx); err != nil {
			t.Fatalf("Compact: %v", err)
		}
		minute := tierRecords(t, store, "minute")
		if len(minute) != 1 {
			t.Fatalf("minute tier holds %d records, want 1", len(minute))
		}
		if got := minute[0].Rates["peak"]; got != 6 {
			t.Errorf("peak = %v, want max 6", got)
		}
		if got := minute[0].Rates["busy"]; got != 1 {
			t.Errorf("busy = %v, want mean 1", got)
		}
	})
}

func TestPruneDropsExpiredCoarseRecords(t *testing.T) {
	tiers := []history.Tier{
		{Name: "raw", Interval: time.Second, Span: 10 * time.Second},
		{Name: "tens", Interval: 10 * time.Second, Span: 30 * time.Second},
	}
	forEachBackend(t, tiers, func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		appendSeconds(t, store, cpu0, 100)

		if _, err := store.Compact(ctx); err != nil {
			t.Fatalf("Compact: %v", err)
		}
		if got := len(tierRecords(t, store, "tens")); got != 9 {
			t.Fatalf("tens tier holds %d records before prune, want 9", got)
		}

		deleted, err := store.Prune(ctx)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if deleted != 7 {
			t.Errorf("Prune deleted %d, want 7", deleted)
		}
		tens := tierRecords(t, store, "tens")
		if len(tens) != 2 || !tens[0].Start.Equal(epoch.Add(70*time.Second)) {
			t.Errorf("tens tier after prune = %d records starting %v, want 2 from 70s", len(tens), tens)
		}
		if got := len(tierRecords(t, store, "raw")); got != 10 {
			t.Errorf("raw tier holds %d records, want 10", got)
		}
	})
}

func TestVanishedEntityAgesOut(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		gone := sample.Key{Class: "nic", ID: "veth0"}
		for i := range 10 {
			if err := store.Append(ctx, record(gone, i, map[string]float64{"rx_bytes": 1})); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		appendSeconds(t, store, cpu0, 180)

		if _, err := store.Compact(ctx); err != nil {
			t.Fatalf("Compact: %v", err)
		}
		raw := queryAll(t, store, history.Request{Key: gone, From: epoch, To: epoch.Add(time.Hour), Tier: "raw"})
		if len(raw) != 0 {
			t.Errorf("vanished entity still has %d raw records", len(raw))
		}
		minute := queryAll(t, store, history.Request{Key: gone, From: epoch, To: epoch.Add(time.Hour), Tier: "minute"})
		if len(minute) != 1 || minute[0].Samples != 10 {
			t.Errorf("vanished entity minute records = %+v, want one with 10 samples", minute)
		}
	})
}

func TestRegisterAndEntities(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		sda := sample.Key{Class: "disk", ID: "sda"}
		if err := store.Register(ctx, history.EntityInfo{Key: sda, Tag: "disk", FirstSeen: epoch}); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := store.Register(ctx, history.EntityInfo{Key: sda, Tag: "physical-disk", FirstSeen: epoch.Add(time.Hour)}); err != nil {
			t.Fatalf("Register again: %v", err)
		}
		if err := store.Append(ctx, record(cpu0, 0, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}

		entities, err := store.Entities(ctx)
		if err != nil {
			t.Fatalf("Entities: %v", err)
		}
		if len(entities) != 2 {
			t.Fatalf("got %d entities, want 2", len(entities))
		}
		if entities[0].Key != cpu0 || entities[1].Key != sda {
			t.Errorf("entities not ordered by key: %v", entities)
		}
		if entities[1].Tag != "physical-disk" {
			t.Errorf("tag = %q, want updated tag", entities[1].Tag)
		}
		if !entities[1].FirstSeen.Equal(epoch) {
			t.Errorf("FirstSeen = %s, want the first registration", entities[1].FirstSeen)
		}
	})
}

func TestLatestAll(t *testing.T) {
	forEachBackend(t, minuteLadder(), func(t *testing.T, store *history.Store) {
		ctx := context.Background()
		eth0 := sample.Key{Class: "nic", ID: "eth0"}
		appendSeconds(t, store, cpu0, 3)
		if err := store.Append(ctx, record(eth0, 7, map[string]float64{"rx_bytes": 10})); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := store.Register(ctx, history.EntityInfo{Key: sample.Key{Class: "disk", ID: "sdb"}}); err != nil {
			t.Fatalf("Register: %v", err)
		}

		latest, err := store.LatestAll(ctx)
		if err != nil {
			t.Fatalf("LatestAll: %v", err)
		}
		if len(latest) != 2 {
			t.Fatalf("got %d records, want 2 (entities without records are skipped)", len(latest))
		}
		if latest[0].Key != cpu0 || !latest[0].Start.Equal(epoch.Add(2*time.Second)) {
			t.Errorf("latest cpu0 = %+v", latest[0])
		}
		if latest[1].Key != eth0 || latest[1].Rates["rx_bytes"] != 10 {
			t.Errorf("latest eth0 = %+v", latest[1])
		}
	})
}

func TestSubscribeDropsWhenFull(t *testing.T) {
	store, err := history.NewStore(context.Background(), history.Config{
		Backend: history.NewMemoryBackend(),
		Tiers:   minuteLadder(),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	subscription := store.Subscribe(1)
	appendSeconds(t, store, cpu0, 3)

	if got := subscription.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	first := <-subscription.C
	if !first.Start.Equal(epoch) {
		t.Errorf("first delivered record starts at %s, want %s", first.Start, epoch)
	}

	subscription.Close()
	subscription.Close()
	if _, open := <-subscription.C; open {
		t.Error("channel still open after Close")
	}

	late := store.Subscribe(4)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, open := <-late.C; open {
		t.Error("subscription still open after store Close")
	}
	if err := store.Append(context.Background(), record(cpu0, 99, nil)); !errors.Is(err, history.ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
}
