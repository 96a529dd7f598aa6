// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrHeld is matched by the error Acquire returns when another process
// holds the lock.
var ErrHeld = errors.New("lockfile: held by another process")

// Owner describes the process holding a lock.
type Owner struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Version string    `json:"version,omitempty"`
}

// HeldError reports the current owner when it could be read.
type HeldError struct {
	Path  string
	Owner Owner
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("lockfile: %s is held by another process", e.Path)
	}
	return fmt.Sprintf("lockfile: %s is held by pid %d (started %s)",
		e.Path, e.Owner.PID, e.Owner.Started.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// PathFor returns the lock path used for a database file.
func PathFor(database string) string {
	return database + ".lock"
}

// Lock is a held lock. Release it when done.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock at path without blocking and records owner in
// it. The parent directory must exist.
func Acquire(path string, owner Owner) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: opening %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		defer file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			held := &HeldError{Path: path}
			held.Owner, _ = readOwner(file)
			return nil, held
		}
		return nil, fmt.Errorf("lockfile: locking %s: %w", path, err)
	}

	lock := &Lock{file: file, path: path}
	if err := lock.writeOwner(owner); err != nil {
		lock.Release()
		return nil, err
	}
	return lock, nil
}

// writeOwner replaces the file content in place. The file cannot be
// swapped by rename because the lock belongs to this inode.
func (l *Lock) writeOwner(owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("lockfile: encoding owner: %w", err)
	}
	data = append(data, '\n')

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("lockfile: truncating %s: %w", l.path, err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("lockfile: writing %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("lockfile: syncing %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release clears the owner record, drops the lock and closes the file.
// The file itself stays: removing it would let a concurrent Acquire
// lock an unlinked inode.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	truncateErr := l.file.Truncate(0)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err := errors.Join(truncateErr, unlockErr, closeErr); err != nil {
		return fmt.Errorf("lockfile: releasing %s: %w", l.path, err)
	}
	return nil
}

// ReadOwner returns the owner recorded at path. An empty file (no
// current owner) yields a zero Owner and no error.
func ReadOwner(path string) (Owner, error) {
	file, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer file.Close()
	return readOwner(file)
}

func readOwner(file *os.File) (Owner, error) {
	data, err := io.ReadAll(io.NewSectionReader(file, 0, 1<<16))
	if err != nil {
		return Owner{}, fmt.Errorf("lockfile: reading %s: %w", file.Name(), err)
	}
	var owner Owner
	if len(data) == 0 {
		return owner, nil
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return Owner{}, fmt.Errorf("lockfile: parsing %s: %w", file.Name(), err)
	}
	return owner, nil
}
