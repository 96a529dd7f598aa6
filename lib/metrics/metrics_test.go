// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hostwatch/hostwatch/lib/sample"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.TickCompleted(3 * time.Millisecond)
	r.TickCompleted(4 * time.Millisecond)
	if got := testutil.ToFloat64(r.ticks); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}
	if samples := testutil.CollectAndCount(r.tickDuration); samples != 1 {
		t.Errorf("tick duration histogram exported %d metrics, want 1", samples)
	}

	r.DeltaUnavailable("counter_reset")
	r.DeltaUnavailable("counter_reset")
	r.DeltaUnavailable("entity_vanished")
	if got := testutil.ToFloat64(r.unavailable.WithLabelValues("counter_reset")); got != 2 {
		t.Errorf("counter_reset = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(r.unavailable); got != 2 {
		t.Errorf("unavailable series = %d, want 2", got)
	}

	r.AcquireFailed("disk")
	if got := testutil.ToFloat64(r.acquireFailures.WithLabelValues("disk")); got != 1 {
		t.Errorf("disk acquire failures = %v, want 1", got)
	}

	r.Compacted(10*time.Millisecond, 3, 180, 2)
	if got := testutil.ToFloat64(r.evicted); got != 180 {
		t.Errorf("evicted = %v, want 180", got)
	}
	if got := testutil.ToFloat64(r.pruned); got != 2 {
		t.Errorf("pruned = %v, want 2", got)
	}

	r.RetriesDropped(0)
	r.RetriesDropped(4)
	if got := testutil.ToFloat64(r.retriesDropped); got != 4 {
		t.Errorf("retries dropped = %v, want 4", got)
	}

	r.SetEntities(17)
	if got := testutil.ToFloat64(r.entities); got != 17 {
		t.Errorf("entities = %v, want 17", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.TickCompleted(time.Second)
	r.RecordAppended()
	r.AppendFailed()
	r.RetriesDropped(1)
	r.DeltaUnavailable("counter_reset")
	r.AcquireFailed("cpu")
	r.EnumerateFailed("cpu")
	r.Compacted(time.Second, 1, 1, 1)
	r.SetEntities(1)
	r.ObserveRecord(sample.RateRecord{Rates: map[string]float64{"user": 1}})
	r.ForgetEntity(sample.Key{Class: "cpu", ID: "cpu0"})
}

func TestRateGauges(t *testing.T) {
	r := New()
	cpu0 := sample.Key{Class: "cpu", ID: "cpu0"}
	sda := sample.Key{Class: "disk", ID: "sda"}

	r.ObserveRecord(sample.RateRecord{Key: cpu0, Rates: map[string]float64{"user": 40, "system": 5}})
	r.ObserveRecord(sample.RateRecord{Key: cpu0, Rates: map[string]float64{"user": 42, "system": 6}})
	r.ObserveRecord(sample.RateRecord{Key: sda, Rates: map[string]float64{"reads": 120}})

	if got := testutil.ToFloat64(r.rates.WithLabelValues("cpu", "cpu0", "user")); got != 42 {
		t.Errorf("cpu0 user = %v, want 42", got)
	}
	if got := testutil.CollectAndCount(r.rates); got != 3 {
		t.Errorf("rate series = %d, want 3", got)
	}

	r.ForgetEntity(cpu0)
	if got := testutil.CollectAndCount(r.rates); got != 1 {
		t.Errorf("rate series after forgetting cpu0 = %d, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordAppended()

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	response, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	for _, name := range []string{"hostwatch_records_appended_total 1", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition lacks %q", name)
		}
	}
}
