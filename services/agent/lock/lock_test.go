// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build unix

package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	l, err := Acquire(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	require.NoError(t, l.Release())
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	require.NoError(t, err)
	defer func() { _ = l1.Release() }()

	// flock state rides on the open file description, so a second
	// open in the same process conflicts just like a second process.
	_, err = Acquire(dir)
	require.ErrorIs(t, err, ErrStateDirLocked)
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "state")

	l, err := Acquire(dir)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	assert.DirExists(t, dir)
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, l1.Release())

	l2, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
