// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hostwatch/hostwatch/lib/codec"
	"github.com/hostwatch/hostwatch/lib/sample"
	"github.com/hostwatch/hostwatch/lib/sqlitepool"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS tiers (
	position     INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	interval_ns  INTEGER NOT NULL,
	span_ns      INTEGER NOT NULL,
	aggregation  TEXT NOT NULL,
	overrides    BLOB
);
CREATE TABLE IF NOT EXISTS entities (
	entity        TEXT PRIMARY KEY,
	tag           TEXT NOT NULL DEFAULT '',
	first_seen_ns INTEGER NOT NULL
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS watermarks (
	entity       TEXT NOT NULL,
	tier         INTEGER NOT NULL,
	watermark_ns INTEGER NOT NULL,
	PRIMARY KEY (entity, tier)
) WITHOUT ROWID;
`

func tierSchema(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS rates_%[1]s (
	entity   TEXT NOT NULL,
	start_ns INTEGER NOT NULL,
	end_ns   INTEGER NOT NULL,
	samples  INTEGER NOT NULL,
	rates    BLOB NOT NULL,
	PRIMARY KEY (entity, start_ns)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS rates_%[1]s_start ON rates_%[1]s (start_ns);
`, name)
}

// SQLiteConfig holds the parameters for OpenSQLite.
type SQLiteConfig struct {
	// Path is the database file. Use sqlitepool.MemoryPath in tests.
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

// SQLiteBackend stores each tier in its own rates_<name> table. Rate
// maps are stored as deterministic CBOR. Timestamps are Unix
// nanoseconds.
type SQLiteBackend struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	mu     sync.RWMutex
	tables []string
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) a history database. Call Init
// through NewStore before use.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   baseSchema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &SQLiteBackend{pool: pool, logger: logger}, nil
}

func (b *SQLiteBackend) Init(ctx context.Context, tiers []Tier) (effective []Tier, err error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: init: %w", err)
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("history: init: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	stored, err := readLadder(conn)
	if err != nil {
		return nil, err
	}

	switch {
	case len(tiers) == 0 && len(stored) == 0:
		return nil, fmt.Errorf("%w: database has no ladder and none was given", ErrInvalidLadder)
	case len(tiers) == 0:
		effective = stored
	case len(stored) == 0:
		effective = tiers
	default:
		if len(stored) != len(tiers) {
			return nil, fmt.Errorf("%w: database has %d tiers, configuration has %d", ErrInvalidLadder, len(stored), len(tiers))
		}
		for i := range tiers {
			if stored[i].Name != tiers[i].Name {
				return nil, fmt.Errorf("%w: tier %d is %q in the database, %q in the configuration",
					ErrInvalidLadder, i, stored[i].Name, tiers[i].Name)
			}
		}
		effective = tiers
	}
	if err := ValidateLadder(effective); err != nil {
		return nil, err
	}

	if len(tiers) > 0 {
		if err := writeLadder(conn, effective); err != nil {
			return nil, err
		}
	}

	tables := make([]string, len(effective))
	for i, tier := range effective {
		if err := sqlitex.ExecuteScript(conn, tierSchema(tier.Name), nil); err != nil {
			return nil, fmt.Errorf("history: creating table for tier %s: %w", tier.Name, err)
		}
		tables[i] = "rates_" + tier.Name
	}

	b.mu.Lock()
	b.tables = tables
	b.mu.Unlock()

	b.logger.Debug("history database ready", "path", b.pool.Path(), "tiers", len(effective))
	return effective, nil
}

func readLadder(conn *sqlite.Conn) ([]Tier, error) {
	var tiers []Tier
	err := sqlitex.Execute(conn,
		`SELECT name, interval_ns, span_ns, aggregation, overrides FROM tiers ORDER BY position`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tier := Tier{
					Name:        stmt.ColumnText(0),
					Interval:    time.Duration(stmt.ColumnInt64(1)),
					Span:        time.Duration(stmt.ColumnInt64(2)),
					Aggregation: Aggregation(stmt.ColumnText(3)),
				}
				if !stmt.ColumnIsNull(4) {
					data := make([]byte, stmt.ColumnLen(4))
					stmt.ColumnBytes(4, data)
					if err := codec.Unmarshal(data, &tier.Overrides); err != nil {
						return fmt.Errorf("decoding overrides of tier %s: %w", tier.Name, err)
					}
				}
				tiers = append(tiers, tier)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: reading tier ladder: %w", err)
	}
	return tiers, nil
}

func writeLadder(conn *sqlite.Conn, tiers []Tier) error {
	if err := sqlitex.Execute(conn, `DELETE FROM tiers`, nil); err != nil {
		return fmt.Errorf("history: clearing tier ladder: %w", err)
	}
	for i, tier := range tiers {
		var overrides any
		if len(tier.Overrides) > 0 {
			data, err := codec.Marshal(tier.Overrides)
			if err != nil {
				return fmt.Errorf("history: encoding overrides of tier %s: %w", tier.Name, err)
			}
			overrides = data
		}
		err := sqlitex.Execute(conn,
			`INSERT INTO tiers (position, name, interval_ns, span_ns, aggregation, overrides) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{i, tier.Name, int64(tier.Interval), int64(tier.Span), string(tier.AggregationFor("")), overrides},
			})
		if err != nil {
			return fmt.Errorf("history: writing tier %s: %w", tier.Name, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) table(tier int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if tier < 0 || tier >= len(b.tables) {
		return "", fmt.Errorf("history: no tier %d", tier)
	}
	return b.tables[tier], nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, record sample.RateRecord) (err error) {
	table, err := b.table(0)
	if err != nil {
		return err
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: insert: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err := insertRecord(conn, table, record, false); err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO entities (entity, tag, first_seen_ns) VALUES (?, '', ?)`,
		&sqlitex.ExecOptions{Args: []any{record.Key.String(), record.Start.UnixNano()}})
}

func insertRecord(conn *sqlite.Conn, table string, record sample.RateRecord, ignoreExisting bool) error {
	rates, err := codec.Marshal(record.Rates)
	if err != nil {
		return fmt.Errorf("history: encoding rates of %s: %w", record.Key, err)
	}
	verb := "INSERT"
	if ignoreExisting {
		verb = "INSERT OR IGNORE"
	}
	query := fmt.Sprintf(`%s INTO %s (entity, start_ns, end_ns, samples, rates) VALUES (?, ?, ?, ?, ?)`, verb, table)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{
			record.Key.String(),
			record.Start.UnixNano(),
			record.End.UnixNano(),
			record.Samples,
			rates,
		},
	})
	if err != nil {
		return fmt.Errorf("history: inserting into %s: %w", table, err)
	}
	return nil
}

func scanRecord(stmt *sqlite.Stmt) (sample.RateRecord, error) {
	// Columns: entity(0), start_ns(1), end_ns(2), samples(3), rates(4)
	key, err := sample.ParseKey(stmt.ColumnText(0))
	if err != nil {
		return sample.RateRecord{}, err
	}
	record := sample.RateRecord{
		Key:     key,
		Start:   time.Unix(0, stmt.ColumnInt64(1)).UTC(),
		End:     time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		Samples: stmt.ColumnInt(3),
	}
	data := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, data)
	if err := codec.Unmarshal(data, &record.Rates); err != nil {
		return sample.RateRecord{}, fmt.Errorf("decoding rates of %s: %w", key, err)
	}
	return record, nil
}

const recordColumns = `entity, start_ns, end_ns, samples, rates`

func (b *SQLiteBackend) Last(ctx context.Context, tier int, key sample.Key) (sample.RateRecord, bool, error) {
	table, err := b.table(tier)
	if err != nil {
		return sample.RateRecord{}, false, err
	}

	var record sample.RateRecord
	var found bool
	err = b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE entity = ? ORDER BY start_ns DESC LIMIT 1`, recordColumns, table)
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{key.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				record, err = scanRecord(stmt)
				found = err == nil
				return err
			},
		})
	})
	if err != nil {
		return sample.RateRecord{}, false, fmt.Errorf("history: last record of %s in %s: %w", key, table, err)
	}
	return record, found, nil
}

func (b *SQLiteBackend) Horizon(ctx context.Context) (time.Time, error) {
	table, err := b.table(0)
	if err != nil {
		return time.Time{}, err
	}

	var horizon time.Time
	err = b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, fmt.Sprintf(`SELECT MAX(end_ns) FROM %s`, table), &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if !stmt.ColumnIsNull(0) {
					horizon = time.Unix(0, stmt.ColumnInt64(0)).UTC()
				}
				return nil
			},
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("history: horizon: %w", err)
	}
	return horizon, nil
}

// lowerBound maps a zero from to the smallest representable start.
func lowerBound(from time.Time) int64 {
	if from.IsZero() {
		return math.MinInt64
	}
	return from.UnixNano()
}

func (b *SQLiteBackend) Scan(ctx context.Context, tier int, key sample.Key, from, to time.Time, limit int) ([]sample.RateRecord, error) {
	table, err := b.table(tier)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	var records []sample.RateRecord
	err = b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		query := fmt.Sprintf(`SELECT %s FROM %s
			WHERE entity = ? AND start_ns >= ? AND start_ns <= ?
			ORDER BY start_ns LIMIT ?`, recordColumns, table)
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{key.String(), lowerBound(from), to.UnixNano(), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan %s in %s: %w", key, table, err)
	}
	return records, nil
}

func (b *SQLiteBackend) Count(ctx context.Context, tier int, key sample.Key, from, to time.Time) (int, error) {
	table, err := b.table(tier)
	if err != nil {
		return 0, err
	}

	var count int
	err = b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE entity = ? AND start_ns >= ? AND start_ns <= ?`, table)
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{key.String(), lowerBound(from), to.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("history: count %s in %s: %w", key, table, err)
	}
	return count, nil
}

func (b *SQLiteBackend) Watermark(ctx context.Context, key sample.Key, tier int) (time.Time, error) {
	var watermark time.Time
	err := b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT watermark_ns FROM watermarks WHERE entity = ? AND tier = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key.String(), tier},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					watermark = time.Unix(0, stmt.ColumnInt64(0)).UTC()
					return nil
				},
			})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("history: watermark of %s tier %d: %w", key, tier, err)
	}
	return watermark, nil
}

func (b *SQLiteBackend) Promote(ctx context.Context, p Promotion) (evicted int, err error) {
	fineTable, err := b.table(p.Fine)
	if err != nil {
		return 0, err
	}
	coarseTable, err := b.table(p.Fine + 1)
	if err != nil {
		return 0, fmt.Errorf("history: promote: tier %d has no coarser tier", p.Fine)
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: promote: %w", err)
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("history: promote: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, aggregate := range p.Aggregates {
		if err := insertRecord(conn, coarseTable, aggregate, true); err != nil {
			return 0, err
		}
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO watermarks (entity, tier, watermark_ns) VALUES (?, ?, ?)
		 ON CONFLICT (entity, tier) DO UPDATE SET watermark_ns = excluded.watermark_ns`,
		&sqlitex.ExecOptions{Args: []any{p.Key.String(), p.Fine, p.Watermark.UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("history: promote: setting watermark: %w", err)
	}

	err = sqlitex.Execute(conn, fmt.Sprintf(`DELETE FROM %s WHERE entity = ? AND start_ns < ?`, fineTable),
		&sqlitex.ExecOptions{Args: []any{p.Key.String(), p.Watermark.UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("history: promote: evicting from %s: %w", fineTable, err)
	}
	return conn.Changes(), nil
}

func (b *SQLiteBackend) Prune(ctx context.Context, tier int, before time.Time) (int, error) {
	table, err := b.table(tier)
	if err != nil {
		return 0, err
	}

	var deleted int
	err = b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, fmt.Sprintf(`DELETE FROM %s WHERE start_ns < ?`, table),
			&sqlitex.ExecOptions{Args: []any{before.UnixNano()}})
		deleted = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("history: prune %s: %w", table, err)
	}
	return deleted, nil
}

func (b *SQLiteBackend) RegisterEntity(ctx context.Context, info EntityInfo) error {
	err := b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO entities (entity, tag, first_seen_ns) VALUES (?, ?, ?)
			 ON CONFLICT (entity) DO UPDATE SET
			   tag = excluded.tag,
			   first_seen_ns = MIN(first_seen_ns, excluded.first_seen_ns)`,
			&sqlitex.ExecOptions{Args: []any{info.Key.String(), info.Tag, info.FirstSeen.UnixNano()}})
	})
	if err != nil {
		return fmt.Errorf("history: register %s: %w", info.Key, err)
	}
	return nil
}

func (b *SQLiteBackend) Entities(ctx context.Context) ([]EntityInfo, error) {
	var entities []EntityInfo
	err := b.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT entity, tag, first_seen_ns FROM entities`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				key, err := sample.ParseKey(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				entities = append(entities, EntityInfo{
					Key:       key,
					Tag:       stmt.ColumnText(1),
					FirstSeen: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: entities: %w", err)
	}
	sortEntities(entities)
	return entities, nil
}

func (b *SQLiteBackend) Close() error {
	return b.pool.Close()
}
