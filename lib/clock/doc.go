// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source for the sampling scheduler and
// the daemon's maintenance loop.
//
// Production code takes a Clock instead of calling time.Now or
// time.NewTicker directly. Real() wraps the time package. Fake() is a
// deterministic clock for tests: time stands still until Advance is
// called, and tickers fire once per elapsed interval.
//
// A typical scheduler test:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go sched.Run(ctx)
//	fake.WaitForTimers(1)      // the scheduler's ticker is registered
//	fake.Advance(time.Second)  // one sampling round
//
// Timestamps read from Real() carry a monotonic reading, so elapsed time
// between two snapshots is immune to wall-clock steps. Fake() times are
// wall-clock only, which is sufficient for deterministic tests.
package clock
