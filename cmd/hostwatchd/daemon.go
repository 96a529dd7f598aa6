// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/config"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/lockfile"
	"github.com/hostwatch/hostwatch/lib/metrics"
	"github.com/hostwatch/hostwatch/lib/procfs"
	"github.com/hostwatch/hostwatch/lib/scheduler"
	"github.com/hostwatch/hostwatch/lib/version"
)

const (
	// shutdownTimeout bounds the metrics server's graceful shutdown.
	shutdownTimeout = 5 * time.Second

	// rateBuffer holds appended records awaiting export as gauges.
	rateBuffer = 1024
)

// runDaemon samples until ctx ends. A cancelled context is a clean
// shutdown and returns nil.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real()

	store, release, err := openStore(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer release()

	sources, err := buildSources(cfg, clk)
	if err != nil {
		return err
	}

	recorder := metrics.New()
	sampler, err := scheduler.New(scheduler.Config{
		Sources:        sources,
		Store:          store,
		Classifier:     procfs.SysfsClassifier{SysRoot: cfg.SysRoot},
		Interval:       cfg.Interval,
		AcquireTimeout: cfg.EffectiveAcquireTimeout(),
		CompactEvery:   cfg.CompactEvery,
		RetryLimit:     cfg.RetryLimit,
		Clock:          clk,
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		return err
	}

	var listener net.Listener
	if cfg.MetricsListen != "" {
		listener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("serving metrics", "address", listener.Addr().String())
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sampler.Run(groupCtx)
	})
	if listener != nil {
		subscription := store.Subscribe(rateBuffer)
		group.Go(func() error {
			return publishRates(groupCtx, subscription, recorder, logger)
		})
		group.Go(func() error {
			return serveMetrics(groupCtx, listener, recorder.Handler(), logger)
		})
	}

	err = group.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Info("hostwatchd stopped")
		return nil
	}
	return err
}

// openStore opens the configured history. For a database file it takes
// the recorder lock first; release closes the store and drops the lock.
func openStore(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*history.Store, func(), error) {
	ladder, err := cfg.Ladder()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database == "" {
		logger.Warn("no database configured, history is kept in memory only")
		store, err := history.NewStore(ctx, history.Config{
			Backend: history.NewMemoryBackend(),
			Tiers:   ladder,
			Clock:   clk,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { closeStore(store, logger) }, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating database directory: %w", err)
	}
	lock, err := lockfile.Acquire(lockfile.PathFor(cfg.Database), lockfile.Owner{
		PID:     os.Getpid(),
		Started: clk.Now(),
		Version: version.Short(),
	})
	if err != nil {
		return nil, nil, err
	}
	releaseLock := func() {
		if err := lock.Release(); err != nil {
			logger.Error("releasing recorder lock", "error", err)
		}
	}

	backend, err := history.OpenSQLite(history.SQLiteConfig{Path: cfg.Database, Logger: logger})
	if err != nil {
		releaseLock()
		return nil, nil, err
	}
	store, err := history.NewStore(ctx, history.Config{
		Backend: backend,
		Tiers:   ladder,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		backend.Close()
		releaseLock()
		return nil, nil, fmt.Errorf("opening %s: %w", cfg.Database, err)
	}
	return store, func() {
		closeStore(store, logger)
		releaseLock()
	}, nil
}

func closeStore(store *history.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("closing history", "error", err)
	}
}

// buildSources creates one source per enabled class. Counter overrides
// from the configuration are applied through the sources' Tune hook.
func buildSources(cfg *config.Config, clk clock.Clock) ([]scheduler.Source, error) {
	sourceConfig := procfs.Config{
		ProcRoot: cfg.ProcRoot,
		SysRoot:  cfg.SysRoot,
		Clock:    clk,
		Tune:     cfg.ApplyCounter,
	}

	var sources []scheduler.Source
	for _, class := range cfg.Sources {
		var (
			source scheduler.Source
			err    error
		)
		switch class {
		case procfs.ClassCPU:
			source, err = procfs.NewCPUSource(sourceConfig)
		case procfs.ClassDisk:
			source, err = procfs.NewDiskSource(sourceConfig)
		case procfs.ClassNIC:
			source, err = procfs.NewNICSource(sourceConfig)
		case procfs.ClassSched:
			source, err = procfs.NewSchedSource(sourceConfig)
		default:
			return nil, fmt.Errorf("unknown source %q", class)
		}
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", class, err)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// publishRates mirrors every appended record into the hostwatch_rate
// gauges until ctx ends.
func publishRates(ctx context.Context, subscription *history.Subscription, recorder *metrics.Recorder, logger *slog.Logger) error {
	defer subscription.Close()
	for {
		select {
		case <-ctx.Done():
			if dropped := subscription.Dropped(); dropped > 0 {
				logger.Warn("rate gauges skipped records", "dropped", dropped)
			}
			return ctx.Err()
		case record, ok := <-subscription.C:
			if !ok {
				return nil
			}
			recorder.ObserveRecord(record)
		}
	}
}

// serveMetrics serves handler on listener until ctx ends.
func serveMetrics(ctx context.Context, listener net.Listener, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener)
	}()

	select {
	case err := <-done:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}
