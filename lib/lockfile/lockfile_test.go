// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRecordsOwner(t *testing.T) {
	path := PathFor(filepath.Join(t.TempDir(), "history.db"))
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lock, err := Acquire(path, Owner{PID: 4242, Started: started, Version: "1.2.3"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	owner, err := ReadOwner(path)
	if err != nil {
		t.Fatalf("ReadOwner: %v", err)
	}
	if owner.PID != 4242 || !owner.Started.Equal(started) || owner.Version != "1.2.3" {
		t.Errorf("owner = %+v", owner)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db.lock")

	first, err := Acquire(path, Owner{PID: 100, Started: time.Now()})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err = Acquire(path, Owner{PID: 200, Started: time.Now()})
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire error = %v, want ErrHeld", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.Owner.PID != 100 {
		t.Errorf("HeldError = %+v, want owner pid 100", held)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	third, err := Acquire(path, Owner{PID: 300, Started: time.Now()})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer third.Release()
	if owner, _ := ReadOwner(path); owner.PID != 300 {
		t.Errorf("owner after reacquire = %+v", owner)
	}
}

func TestReleaseClearsOwnerAndKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	lock, err := Acquire(path, Owner{PID: 1, Started: time.Now()})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file removed: %v", err)
	}
	owner, err := ReadOwner(path)
	if err != nil {
		t.Fatalf("ReadOwner: %v", err)
	}
	if owner != (Owner{}) {
		t.Errorf("owner after release = %+v, want zero", owner)
	}
}
