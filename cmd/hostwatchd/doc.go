// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Hostwatchd samples CPU, disk and network counters once per interval
// and records their rates into a tiered history database.
//
// Only one recorder may write a database at a time. The daemon holds an
// exclusive lock on <database>.lock for its lifetime and refuses to
// start if another process holds it.
//
// Usage:
//
//	hostwatchd [--config path] [--database path] [--log-level level]
//
// Without --config the file named by HOSTWATCH_CONFIG is used, and
// without either the built-in defaults apply. An empty database runs
// with in-memory history.
package main
