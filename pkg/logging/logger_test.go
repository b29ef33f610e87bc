// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	// Unknown strings default to Info rather than failing.
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

// TestFileLogging verifies entries land in the dated service log file.
func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-service",
		Quiet:   true,
	})
	logger.Info("file entry", "key", "value")
	require.NoError(t, logger.Close())

	name := "test-service_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "file entry")
	assert.Contains(t, content, `"service":"test-service"`)
	assert.Contains(t, content, `"key":"value"`)
}

// TestLevelFiltering verifies messages below the configured level are dropped.
func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})
	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	require.NoError(t, logger.Close())

	name := "filter_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	assert.NotContains(t, string(data), "dropped debug")
	assert.NotContains(t, string(data), "dropped info")
	assert.Contains(t, string(data), "kept warn")
}

func TestExporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "export",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("exported message", "attempt", 3)

	// Export runs on a detached goroutine.
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 10*time.Millisecond)

	entry := exporter.Entries()[0]
	assert.Equal(t, "exported message", entry.Message)
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, "export", entry.Service)
	assert.Equal(t, 3, entry.Attrs["attempt"])

	require.NoError(t, logger.Close())
}

func TestWithAttrs(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "child",
		Quiet:   true,
	})
	child := logger.With("request_id", "abc-123")
	child.Info("scoped")
	require.NoError(t, logger.Close())

	name := "child_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "abc-123")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded := expandPath("~/.edgeagent/logs")
	assert.True(t, strings.HasPrefix(expanded, home))
	assert.Equal(t, "/var/log/edgeagent", expandPath("/var/log/edgeagent"))
}

func TestNopExporter(t *testing.T) {
	e := &NopExporter{}
	assert.NoError(t, e.Export(context.Background(), LogEntry{}))
	assert.NoError(t, e.Flush(context.Background()))
	assert.NoError(t, e.Close())
}
