// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MemoryPath opens a private in-memory database. Every connection to
// ":memory:" is a separate database, so Open forces a pool size of one.
const MemoryPath = ":memory:"

// DefaultPoolSize serves one writer (the sampler) and a few concurrent
// readers (queries, the metrics handler, the live viewer).
const DefaultPoolSize = 4

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. Zero means
	// DefaultPoolSize.
	PoolSize int

	// BusyTimeoutMillis bounds how long a connection waits for the
	// write lock. Zero means 5000.
	BusyTimeoutMillis int

	// Schema, when non-empty, is executed as a script on every new
	// connection after the pragmas. It must be idempotent (CREATE ...
	// IF NOT EXISTS).
	Schema string

	Logger *slog.Logger

	// OnConnect runs after Schema. An error discards the connection and
	// is returned from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size set of SQLite connections. The pool is safe for
// concurrent use; a borrowed connection belongs to one goroutine until
// it is returned.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are opened lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if cfg.Path == MemoryPath {
		poolSize = 1
	}

	busyTimeout := cfg.BusyTimeoutMillis
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, busyTimeout, cfg.Schema, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Path returns the database path the pool was opened with.
func (p *Pool) Path() string { return p.path }

// Take borrows a connection, blocking until one is free or ctx ends.
// Every successful Take must be paired with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Do borrows a connection for the duration of fn.
func (p *Pool) Do(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Close waits for borrowed connections to come back, then closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

func prepare(conn *sqlite.Conn, busyTimeout int, schema string, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if schema != "" {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return fmt.Errorf("sqlitepool: schema: %w", err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
