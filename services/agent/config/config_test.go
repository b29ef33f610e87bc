// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartflow/edgeagent/services/agent/classify"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.ListenAddr)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts, "defaults should survive the round trip")
}

func TestLoadSparseFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \"127.0.0.1:9999\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.Cache.CriticalTimeout)
	assert.Equal(t, "https://app.chartflow.io", cfg.Upstream.BaseURL)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

// TestDefaultConfigSyncsWrites: cached responses and queued mutations
// must survive a crash, so the default config keeps fsync on.
func TestDefaultConfigSyncsWrites(t *testing.T) {
	assert.True(t, DefaultConfig().Storage.SyncWrites)

	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.SyncWrites, "generated config must keep fsync on")
}

func TestClassTimeoutsDefault(t *testing.T) {
	timeouts := DefaultConfig().Cache.ClassTimeouts()
	assert.Equal(t, 3*time.Second, timeouts[classify.ClassCriticalAPI])
	_, ok := timeouts[classify.ClassStaticAsset]
	assert.False(t, ok, "only critical_api is bounded by default")
}

func TestClassTimeoutsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cache:\n  timeouts:\n    critical_api: 1000000000\n    image: 2000000000\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	timeouts := cfg.Cache.ClassTimeouts()
	assert.Equal(t, time.Second, timeouts[classify.ClassCriticalAPI],
		"an explicit timeouts entry wins over critical_timeout")
	assert.Equal(t, 2*time.Second, timeouts[classify.ClassImage])
}

func TestLoadRejectsUnknownTimeoutClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cache:\n  timeouts:\n    websocket: 1000000000\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestClassifyRulesDefaults(t *testing.T) {
	rules := ClassifyConfig{}.Rules()
	assert.Equal(t, classify.DefaultRules(), rules)
}

func TestClassifyRulesOverride(t *testing.T) {
	rules := ClassifyConfig{CriticalAPIPaths: []string{"/api/quotes"}}.Rules()
	assert.Equal(t, []string{"/api/quotes"}, rules.CriticalAPIPaths)
	assert.Equal(t, classify.DefaultRules().StaticAssetPaths, rules.StaticAssetPaths)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".edgeagent"), ExpandPath("~/.edgeagent"))
	assert.Equal(t, "/var/lib/edgeagent", ExpandPath("/var/lib/edgeagent"))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeagent.yaml")
	_, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan AgentConfig, 1)
	w, err := NewWatcher(path, func(cfg AgentConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher a beat to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \"127.0.0.1:9001\"\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "127.0.0.1:9001", cfg.Server.ListenAddr)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload was not observed")
	}
}

func TestWatcherSkipsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeagent.yaml")
	_, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan AgentConfig, 1)
	w, err := NewWatcher(path, func(cfg AgentConfig) { reloaded <- cfg }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644))

	select {
	case <-reloaded:
		t.Fatal("invalid config should not reach the callback")
	case <-time.After(500 * time.Millisecond):
	}
}
