// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves shared by tests.
//
// Tests drive time through lib/clock's fake clock. The only real
// timeouts are the ones here, which turn a hung goroutine into a test
// failure instead of a stuck test binary.
//
// All helpers call t.Fatalf on failure.
package testutil
