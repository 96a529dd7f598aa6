// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// Options select what Export writes.
type Options struct {
	// Keys restricts the archive to these entities. Empty means every
	// registered entity.
	Keys []sample.Key

	// From and To bound record start times. Zero To means the store's
	// horizon.
	From time.Time
	To   time.Time

	// Tier names the tier to copy. Empty means the finest.
	Tier string

	Host        string
	Compression Compression
	BatchSize   int
	Now         time.Time
}

// Summary reports what Export wrote.
type Summary struct {
	Entities int
	Records  uint64
	Bytes    int64
}

// Export writes the selected history to w as an archive. Records are
// grouped by entity in key order, ascending in time within an entity.
func Export(ctx context.Context, store *history.Store, w io.Writer, opts Options) (Summary, error) {
	tiers := store.Tiers()
	tier := tiers[0].Name
	if opts.Tier != "" {
		if history.TierIndex(tiers, opts.Tier) < 0 {
			return Summary{}, fmt.Errorf("export: unknown tier %q", opts.Tier)
		}
		tier = opts.Tier
	}
	to := opts.To
	if to.IsZero() {
		to = store.Horizon()
	}

	registered, err := store.Entities(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("export: listing entities: %w", err)
	}
	var entities []history.EntityInfo
	for _, info := range registered {
		if len(opts.Keys) == 0 || slices.Contains(opts.Keys, info.Key) {
			entities = append(entities, info)
		}
	}
	for _, key := range opts.Keys {
		if !slices.ContainsFunc(entities, func(info history.EntityInfo) bool { return info.Key == key }) {
			return Summary{}, fmt.Errorf("export: unknown entity %s", key)
		}
	}

	header := Header{
		Host:    opts.Host,
		Created: opts.Now,
		Tier:    tier,
		From:    opts.From,
		To:      to,
	}
	for _, info := range entities {
		header.Entities = append(header.Entities, entityFromInfo(info))
	}

	writer, err := NewWriter(w, header, WriterOptions{Compression: opts.Compression, BatchSize: opts.BatchSize})
	if err != nil {
		return Summary{}, err
	}

	// An empty store has a zero horizon; it still gets a valid, empty
	// archive.
	if !opts.From.After(to) && !to.IsZero() {
		for _, info := range entities {
			records, err := store.Query(ctx, history.Request{Key: info.Key, From: opts.From, To: to, Tier: tier})
			if err != nil {
				return Summary{}, fmt.Errorf("export: querying %s: %w", info.Key, err)
			}
			for record, err := range records {
				if err != nil {
					return Summary{}, fmt.Errorf("export: reading %s: %w", info.Key, err)
				}
				if err := writer.Write(record); err != nil {
					return Summary{}, err
				}
			}
		}
	}

	if err := writer.Close(); err != nil {
		return Summary{}, err
	}
	return Summary{Entities: len(entities), Records: writer.Records(), Bytes: writer.Bytes()}, nil
}
