// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/hostwatch/hostwatch/lib/sample"
)

var (
	// ErrOutOfOrderWrite is returned by Append when a record does not
	// start strictly after the last record stored for its entity.
	ErrOutOfOrderWrite = errors.New("history: out-of-order write")

	// ErrInvalidRange is returned by Query when From is after To.
	ErrInvalidRange = errors.New("history: invalid range")

	// ErrInvalidRecord is returned by Append for records with an empty
	// interval, a zero key, or a negative or non-finite rate.
	ErrInvalidRecord = errors.New("history: invalid record")

	// ErrInvalidLadder is returned when a tier ladder fails validation
	// or disagrees with the ladder a database was created with.
	ErrInvalidLadder = errors.New("history: invalid tier ladder")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("history: store closed")
)

// OutOfOrderError carries the rejected start time and the start of
// the record already stored. It matches ErrOutOfOrderWrite.
type OutOfOrderError struct {
	Key   sample.Key
	Start time.Time
	Last  time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("history: out-of-order write for %s: start %s is not after %s",
		e.Key, e.Start.Format(time.RFC3339Nano), e.Last.Format(time.RFC3339Nano))
}

func (e *OutOfOrderError) Is(target error) bool {
	return target == ErrOutOfOrderWrite
}
