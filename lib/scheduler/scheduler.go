// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/delta"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/metrics"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// Source produces snapshots for one entity class.
type Source interface {
	// Class names the entity class; every key the source returns
	// carries it.
	Class() string

	// Enumerate lists the entities that exist now.
	Enumerate(ctx context.Context) ([]sample.Key, error)

	// Acquire reads one entity. Sources return an error wrapping
	// sample.ErrNotAvailable for entities that disappeared.
	Acquire(ctx context.Context, key sample.Key) (sample.Snapshot, error)
}

// Classifier assigns the opaque tag stored with each new entity.
type Classifier interface {
	Classify(key sample.Key) string
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(sample.Key) string

func (f ClassifierFunc) Classify(key sample.Key) string { return f(key) }

// Store is the part of *history.Store the scheduler writes to.
type Store interface {
	Append(ctx context.Context, record sample.RateRecord) error
	Register(ctx context.Context, info history.EntityInfo) error
	Compact(ctx context.Context) (history.CompactionStats, error)
	Prune(ctx context.Context) (int, error)
}

const (
	DefaultInterval     = time.Second
	DefaultCompactEvery = 60
	DefaultRetryLimit   = 16
)

// Config holds the parameters for New. Sources and Store are required.
type Config struct {
	Sources    []Source
	Store      Store
	Classifier Classifier

	// Interval is the sampling period. Zero means DefaultInterval.
	Interval time.Duration

	// AcquireTimeout bounds each acquisition and each enumeration.
	// Zero means half the interval.
	AcquireTimeout time.Duration

	// CompactEvery runs Compact and Prune every N ticks. Zero means
	// DefaultCompactEvery.
	CompactEvery int

	// RetryLimit bounds the failed appends held per entity. Zero means
	// DefaultRetryLimit.
	RetryLimit int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Scheduler samples every source once per interval.
type Scheduler struct {
	sources        []Source
	store          Store
	classifier     Classifier
	interval       time.Duration
	acquireTimeout time.Duration
	compactEvery   int
	retryLimit     int
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *metrics.Recorder

	ticks    int
	previous map[sample.Key]sample.Snapshot
	// known holds the last successful enumeration per source class.
	known map[string][]sample.Key
	// pending holds appends that failed, oldest first, per entity.
	pending map[sample.Key][]sample.RateRecord
	// unregistered holds entities whose registration failed.
	unregistered map[sample.Key]history.EntityInfo
}

func New(cfg Config) (*Scheduler, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("scheduler: at least one source is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: Store is required")
	}
	classes := make(map[string]bool, len(cfg.Sources))
	for _, source := range cfg.Sources {
		if classes[source.Class()] {
			return nil, fmt.Errorf("scheduler: two sources for class %q", source.Class())
		}
		classes[source.Class()] = true
	}

	s := &Scheduler{
		sources:        slices.Clone(cfg.Sources),
		store:          cfg.Store,
		classifier:     cfg.Classifier,
		interval:       cfg.Interval,
		acquireTimeout: cfg.AcquireTimeout,
		compactEvery:   cfg.CompactEvery,
		retryLimit:     cfg.RetryLimit,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		previous:       make(map[sample.Key]sample.Snapshot),
		known:          make(map[string][]sample.Key),
		pending:        make(map[sample.Key][]sample.RateRecord),
		unregistered:   make(map[sample.Key]history.EntityInfo),
	}
	if s.classifier == nil {
		s.classifier = ClassifierFunc(func(sample.Key) string { return "" })
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.acquireTimeout <= 0 {
		s.acquireTimeout = s.interval / 2
	}
	if s.compactEvery <= 0 {
		s.compactEvery = DefaultCompactEvery
	}
	if s.retryLimit <= 0 {
		s.retryLimit = DefaultRetryLimit
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Run samples immediately and then once per interval until ctx ends,
// and returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sampler started",
		"interval", s.interval,
		"acquire_timeout", s.acquireTimeout,
		"compact_every", s.compactEvery,
		"sources", len(s.sources),
	)

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler stopped", "ticks", s.ticks)
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick int

	// Entities is the number of entities enumerated (or carried over
	// from a failed enumeration).
	Entities          int
	Forgotten         int
	Acquired          int
	AcquireFailures   int
	EnumerateFailures int

	// Registered counts first sightings, which produce no record.
	Registered int

	Appended       int
	Unavailable    int
	AppendFailures int
	Retried        int
	RetriesDropped int

	Compacted  bool
	Compaction history.CompactionStats
	Pruned     int
}

type acquisition struct {
	snapshot sample.Snapshot
	err      error
}

// Tick runs one sampling round. It is not safe for concurrent use.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	started := s.clock.Now()
	s.ticks++
	report := TickReport{Tick: s.ticks}

	s.retryPending(ctx, &report)

	live := s.enumerate(ctx, &report)
	for key := range s.previous {
		if _, ok := live[key]; !ok {
			delete(s.previous, key)
			s.metrics.ForgetEntity(key)
			report.Forgotten++
		}
	}

	keys := make([]sample.Key, 0, len(live))
	for key := range live {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)
	report.Entities = len(keys)

	results := s.acquireAll(ctx, keys, live)
	for i, key := range keys {
		s.process(ctx, key, results[i], &report)
	}

	if s.ticks%s.compactEvery == 0 {
		s.maintain(ctx, &report)
	}

	s.metrics.SetEntities(len(s.previous))
	s.metrics.TickCompleted(s.clock.Now().Sub(started))
	s.logger.Debug("tick complete",
		"tick", report.Tick,
		"entities", report.Entities,
		"appended", report.Appended,
		"unavailable", report.Unavailable,
		"acquire_failures", report.AcquireFailures,
	)
	return report
}

// enumerate lists entities per source. A source whose enumeration fails
// contributes the entities it listed last time.
func (s *Scheduler) enumerate(ctx context.Context, report *TickReport) map[sample.Key]Source {
	live := make(map[sample.Key]Source)
	for _, source := range s.sources {
		class := source.Class()
		enumerateCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		keys, err := boundedCall(enumerateCtx, func(callCtx context.Context) ([]sample.Key, error) {
			return source.Enumerate(callCtx)
		})
		cancel()
		if err != nil {
			report.EnumerateFailures++
			s.metrics.EnumerateFailed(class)
			s.logger.Warn("enumeration failed, keeping previous entity list",
				"class", class,
				"known", len(s.known[class]),
				"error", err,
			)
			keys = s.known[class]
		} else {
			s.known[class] = keys
		}
		for _, key := range keys {
			live[key] = source
		}
	}
	return live
}

// acquireAll reads every entity concurrently. Each acquisition has its
// own deadline and its own result slot; one failure never affects the
// others.
func (s *Scheduler) acquireAll(ctx context.Context, keys []sample.Key, live map[sample.Key]Source) []acquisition {
	results := make([]acquisition, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, key := range keys {
		source := live[key]
		group.Go(func() error {
			acquireCtx, cancel := context.WithTimeout(groupCtx, s.acquireTimeout)
			defer cancel()
			snapshot, err := boundedCall(acquireCtx, func(callCtx context.Context) (sample.Snapshot, error) {
				return source.Acquire(callCtx, key)
			})
			if err == nil && snapshot.Key != key {
				err = fmt.Errorf("source %s returned snapshot for %s", source.Class(), snapshot.Key)
			}
			results[i] = acquisition{snapshot: snapshot, err: err}
			return nil
		})
	}
	group.Wait()
	return results
}

// boundedCall returns when call does or when ctx ends, whichever is
// first, so a source that ignores its context cannot stall a tick.
func boundedCall[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := call(ctx)
		done <- outcome{value, err}
	}()
	select {
	case result := <-done:
		return result.value, result.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Scheduler) process(ctx context.Context, key sample.Key, result acquisition, report *TickReport) {
	if result.err != nil {
		report.AcquireFailures++
		s.metrics.AcquireFailed(key.Class)
		level := slog.LevelWarn
		if errors.Is(result.err, sample.ErrNotAvailable) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "acquisition failed, keeping previous snapshot", "entity", key, "error", result.err)
		return
	}
	report.Acquired++

	previous, known := s.previous[key]
	s.previous[key] = result.snapshot
	if !known {
		s.register(ctx, history.EntityInfo{
			Key:       key,
			Tag:       s.classifier.Classify(key),
			FirstSeen: result.snapshot.Time,
		})
		report.Registered++
		return
	}

	record, err := delta.Compute(previous, result.snapshot)
	if err != nil {
		report.Unavailable++
		reason, _ := delta.ReasonOf(err)
		s.metrics.DeltaUnavailable(reason.String())
		s.logger.Debug("no rate for interval", "entity", key, "reason", reason, "error", err)
		return
	}
	s.append(ctx, record, report)
}

func (s *Scheduler) register(ctx context.Context, info history.EntityInfo) {
	if err := s.store.Register(ctx, info); err != nil {
		s.unregistered[info.Key] = info
		s.logger.Warn("registering entity failed", "entity", info.Key, "error", err)
		return
	}
	delete(s.unregistered, info.Key)
	s.logger.Debug("new entity", "entity", info.Key, "tag", info.Tag)
}

// append writes record, or queues it behind earlier failures of the
// same entity so records reach the store in order.
func (s *Scheduler) append(ctx context.Context, record sample.RateRecord, report *TickReport) {
	if len(s.pending[record.Key]) > 0 {
		s.enqueue(record, report)
		return
	}
	err := s.store.Append(ctx, record)
	switch {
	case err == nil:
		report.Appended++
		s.metrics.RecordAppended()
	case permanent(err):
		s.logger.Warn("discarding rejected record", "entity", record.Key, "start", record.Start, "error", err)
	default:
		report.AppendFailures++
		s.metrics.AppendFailed()
		s.logger.Warn("append failed, will retry", "entity", record.Key, "error", err)
		s.enqueue(record, report)
	}
}

func (s *Scheduler) enqueue(record sample.RateRecord, report *TickReport) {
	queue := append(s.pending[record.Key], record)
	if overflow := len(queue) - s.retryLimit; overflow > 0 {
		report.RetriesDropped += overflow
		s.metrics.RetriesDropped(overflow)
		s.logger.Warn("retry queue full, dropping oldest records",
			"entity", record.Key,
			"dropped", overflow,
			"limit", s.retryLimit,
		)
		queue = slices.Delete(queue, 0, overflow)
	}
	s.pending[record.Key] = queue
}

// retryPending replays queued appends in order, stopping at an entity's
// first failure. Failed registrations are retried too.
func (s *Scheduler) retryPending(ctx context.Context, report *TickReport) {
	for key, info := range s.unregistered {
		if _, tracked := s.previous[key]; tracked {
			s.register(ctx, info)
		} else {
			delete(s.unregistered, key)
		}
	}

	keys := make([]sample.Key, 0, len(s.pending))
	for key := range s.pending {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)

	for _, key := range keys {
		queue := s.pending[key]
		for len(queue) > 0 {
			err := s.store.Append(ctx, queue[0])
			if err != nil && !permanent(err) {
				report.AppendFailures++
				s.metrics.AppendFailed()
				s.logger.Warn("retried append failed", "entity", key, "queued", len(queue), "error", err)
				break
			}
			if err != nil {
				s.logger.Warn("discarding rejected record", "entity", key, "start", queue[0].Start, "error", err)
			} else {
				report.Retried++
				report.Appended++
				s.metrics.RecordAppended()
			}
			queue = queue[1:]
		}
		if len(queue) == 0 {
			delete(s.pending, key)
		} else {
			s.pending[key] = queue
		}
	}
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, history.ErrOutOfOrderWrite) || errors.Is(err, history.ErrInvalidRecord)
}

func (s *Scheduler) maintain(ctx context.Context, report *TickReport) {
	started := s.clock.Now()
	report.Compacted = true

	stats, err := s.store.Compact(ctx)
	report.Compaction = stats
	if err != nil {
		s.logger.Error("compaction failed", "error", err)
	}
	pruned, err := s.store.Prune(ctx)
	report.Pruned = pruned
	if err != nil {
		s.logger.Error("prune failed", "error", err)
	}

	s.metrics.Compacted(s.clock.Now().Sub(started), stats.Promoted, stats.Evicted, pruned)
	s.logger.Debug("maintenance complete",
		"promoted", stats.Promoted,
		"evicted", stats.Evicted,
		"pruned", pruned,
	)
}

// Pending returns the number of queued appends across all entities.
func (s *Scheduler) Pending() int {
	var n int
	for _, queue := range s.pending {
		n += len(queue)
	}
	return n
}

func compareKeys(a, b sample.Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
