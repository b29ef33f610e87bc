// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock guards the agent state directory against a second
// agent process.
//
// BadgerDB corrupts under concurrent processes, so `edgeagent serve`
// takes an advisory lock on the state dir before opening the store.
// A second serve against the same dir fails fast with
// ErrStateDirLocked instead of limping into database errors.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrStateDirLocked is returned when another agent process already
// holds the state directory.
var ErrStateDirLocked = errors.New("state directory is locked by another agent process")

const lockFileName = "agent.lock"

// StateLock is a held lock on a state directory.
type StateLock struct {
	file *os.File
}

// Acquire takes an exclusive advisory lock on dir, creating the
// directory if needed. The lock file records the holder's PID for
// debugging; the flock, not the file content, is authoritative.
func Acquire(dir string) (*StateLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrStateDirLocked) {
			return nil, fmt.Errorf("%w: %s", ErrStateDirLocked, dir)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &StateLock{file: f}, nil
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *StateLock) Release() error {
	if err := flockRelease(l.file); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
