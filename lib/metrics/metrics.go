// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the sampler's own health as Prometheus
// metrics: ticks, appends, unavailable deltas by reason, acquisition
// failures by class, and compaction cost.
//
// Every method is safe on a nil *Recorder, so components can be built
// without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostwatch/hostwatch/lib/sample"
)

const namespace = "hostwatch"

// Recorder owns a private registry holding the hostwatch collectors
// plus the Go runtime and process collectors.
type Recorder struct {
	registry *prometheus.Registry

	ticks             prometheus.Counter
	tickDuration      prometheus.Histogram
	appended          prometheus.Counter
	appendFailures    prometheus.Counter
	retriesDropped    prometheus.Counter
	unavailable       *prometheus.CounterVec
	acquireFailures   *prometheus.CounterVec
	enumerateFailures *prometheus.CounterVec
	compactDuration   prometheus.Histogram
	promoted          prometheus.Counter
	evicted           prometheus.Counter
	pruned            prometheus.Counter
	entities          prometheus.Gauge
	rates             *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Sampling ticks completed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one sampling tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Rate records written to the finest tier.",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_failures_total",
			Help:      "Appends that failed and were queued for retry.",
		}),
		retriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_retries_dropped_total",
			Help:      "Queued records discarded because an entity's retry queue was full.",
		}),
		unavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_unavailable_total",
			Help:      "Snapshot pairs that produced no rate record, by reason.",
		}, []string{"reason"}),
		acquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_failures_total",
			Help:      "Snapshot acquisitions that failed or timed out, by entity class.",
		}, []string{"class"}),
		enumerateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumerate_failures_total",
			Help:      "Entity enumerations that failed, by entity class.",
		}, []string{"class"}),
		compactDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall time of one compaction and prune pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_promoted_total",
			Help:      "Coarse records produced by compaction.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Fine records removed after promotion.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pruned_total",
			Help:      "Records removed from the coarsest tier by age.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_entities",
			Help:      "Entities with a previous snapshot held by the scheduler.",
		}),
		rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate",
			Help:      "Per-second rate from the most recent record of each entity and counter.",
		}, []string{"class", "entity", "counter"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ticks, r.tickDuration, r.appended, r.appendFailures, r.retriesDropped,
		r.unavailable, r.acquireFailures, r.enumerateFailures,
		r.compactDuration, r.promoted, r.evicted, r.pruned, r.entities, r.rates,
	)
	return r
}

// ObserveRecord publishes record's rates as hostwatch_rate gauges.
func (r *Recorder) ObserveRecord(record sample.RateRecord) {
	if r == nil {
		return
	}
	for name, value := range record.Rates {
		r.rates.WithLabelValues(record.Key.Class, record.Key.ID, name).Set(value)
	}
}

// ForgetEntity removes every hostwatch_rate series of key.
func (r *Recorder) ForgetEntity(key sample.Key) {
	if r == nil {
		return
	}
	r.rates.DeletePartialMatch(prometheus.Labels{"class": key.Class, "entity": key.ID})
}

// Registry returns the registry for callers that add collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TickCompleted(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	r.tickDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) RecordAppended() {
	if r == nil {
		return
	}
	r.appended.Inc()
}

func (r *Recorder) AppendFailed() {
	if r == nil {
		return
	}
	r.appendFailures.Inc()
}

func (r *Recorder) RetriesDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.retriesDropped.Add(float64(n))
}

func (r *Recorder) DeltaUnavailable(reason string) {
	if r == nil {
		return
	}
	r.unavailable.WithLabelValues(reason).Inc()
}

func (r *Recorder) AcquireFailed(class string) {
	if r == nil {
		return
	}
	r.acquireFailures.WithLabelValues(class).Inc()
}

func (r *Recorder) EnumerateFailed(class string) {
	if r == nil {
		return
	}
	r.enumerateFailures.WithLabelValues(class).Inc()
}

func (r *Recorder) Compacted(elapsed time.Duration, promoted, evicted, pruned int) {
	if r == nil {
		return
	}
	r.compactDuration.Observe(elapsed.Seconds())
	r.promoted.Add(float64(promoted))
	r.evicted.Add(float64(evicted))
	r.pruned.Add(float64(pruned))
}

func (r *Recorder) SetEntities(n int) {
	if r == nil {
		return
	}
	r.entities.Set(float64(n))
}
