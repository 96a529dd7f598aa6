// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"errors"
	"fmt"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// Reason classifies why no rate record exists for a snapshot pair.
type Reason uint8

const (
	NonMonotonicTime Reason = iota + 1
	CounterReset
	EntityVanished
	KeyMismatch
)

// String returns the snake_case reason name used in logs and metric
// labels.
func (r Reason) String() string {
	switch r {
	case NonMonotonicTime:
		return "non_monotonic_time"
	case CounterReset:
		return "counter_reset"
	case EntityVanished:
		return "entity_vanished"
	case KeyMismatch:
		return "key_mismatch"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Sentinels for errors.Is. An *Unavailable matches the sentinel of its
// Reason.
var (
	ErrNonMonotonicTime = errors.New("delta: non-monotonic time")
	ErrCounterReset     = errors.New("delta: counter reset")
	ErrEntityVanished   = errors.New("delta: entity vanished")
	ErrKeyMismatch      = errors.New("delta: key mismatch")
)

// Unavailable reports that no valid delta exists for a snapshot pair.
type Unavailable struct {
	Key    sample.Key
	Reason Reason
	// Counter names the counter that triggered CounterReset or
	// EntityVanished. Empty otherwise.
	Counter string
}

func (u *Unavailable) Error() string {
	if u.Counter != "" {
		return fmt.Sprintf("delta: %s: %s (counter %s)", u.Key, u.Reason, u.Counter)
	}
	return fmt.Sprintf("delta: %s: %s", u.Key, u.Reason)
}

// Is matches the sentinel corresponding to u.Reason.
func (u *Unavailable) Is(target error) bool {
	switch target {
	case ErrNonMonotonicTime:
		return u.Reason == NonMonotonicTime
	case ErrCounterReset:
		return u.Reason == CounterReset
	case ErrEntityVanished:
		return u.Reason == EntityVanished
	case ErrKeyMismatch:
		return u.Reason == KeyMismatch
	}
	return false
}

// ReasonOf returns the Reason carried by err, and false when err is not
// an *Unavailable.
func ReasonOf(err error) (Reason, bool) {
	var unavailable *Unavailable
	if errors.As(err, &unavailable) {
		return unavailable.Reason, true
	}
	return 0, false
}
