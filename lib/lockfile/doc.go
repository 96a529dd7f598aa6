// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockfile guarantees a single recorder per history database.
//
// The daemon takes an exclusive, non-blocking flock(2) on
// "<database>.lock" and writes its owner record (pid, start time,
// version) into the file. A second daemon fails fast with a *HeldError
// naming the current owner. The kernel drops the lock when the holder
// exits, so a crashed daemon never leaves a stale lock behind; the
// owner record is informational only.
package lockfile
