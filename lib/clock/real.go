// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"fmt"
	"time"
)

// Real returns the wall clock used by the daemon and CLI.
func Real() Clock { return wallClock{} }

type wallClock struct{}

var _ Clock = wallClock{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ready := make(chan time.Time, 1)
		ready <- time.Now()
		return ready
	}
	return time.NewTimer(d).C
}

func (wallClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic(fmt.Sprintf("clock: non-positive ticker interval %v", d))
	}
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
