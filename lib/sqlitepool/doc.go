// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens pooled SQLite connections with the pragmas
// the history database relies on: WAL journaling so the live viewer
// can read while the daemon writes, NORMAL synchronous mode, and a
// busy timeout long enough to ride out a compaction transaction.
//
// Connections come from zombiezen.com/go/sqlite, a cgo-free driver
// built on modernc.org/sqlite. Callers either Take/Put connections
// directly or run a function against a borrowed connection with Do.
package sqlitepool
