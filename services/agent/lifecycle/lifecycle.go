// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle drives the agent's per-version deployment steps:
// install-time precache, activation cleanup, important-resource
// preload, and takeover of connected application instances.
//
// One Manager exists per deployed version. Transitions are
// one-directional: Installing -> Waiting -> Activating -> Active.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chartflow/edgeagent/services/agent/partition"
	"github.com/chartflow/edgeagent/services/agent/strategy"
)

// ErrInstallFailed indicates at least one precache item failed.
// Install is all-or-nothing: a half-cached version never activates.
var ErrInstallFailed = errors.New("install precache failed")

// ErrNotWaiting indicates an activation was requested outside the
// Waiting state. Transitions are one-directional.
var ErrNotWaiting = errors.New("version is not in the waiting state")

// State is the version's position in the deployment lifecycle.
type State int

const (
	StateNew State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Claimer takes control of already-open application instances so they
// route through the newly activated version. The control hub
// implements this.
type Claimer interface {
	Claim(version string)
}

// PrecacheLists holds the concrete URLs fetched at deploy boundaries.
type PrecacheLists struct {
	// StaticAssets are installed into the static partition.
	StaticAssets []string

	// CriticalAPI paths are installed into the api partition.
	CriticalAPI []string

	// ImportantAPI paths are preloaded into the dynamic partition at
	// activation, best-effort.
	ImportantAPI []string
}

// Manager runs one version through the lifecycle.
//
// Thread Safety: safe for concurrent use; state transitions are
// serialized by an internal mutex.
type Manager struct {
	store    *partition.Store
	fetcher  strategy.Fetcher
	executor *strategy.Executor
	claimer  Claimer
	logger   *slog.Logger

	version         string
	lists           PrecacheLists
	precacheTimeout time.Duration

	mu          sync.Mutex
	state       State
	prevVersion string
}

// NewManager creates a Manager for one deployed version.
// claimer may be nil when no control hub is attached (tests, CLI).
func NewManager(store *partition.Store, fetcher strategy.Fetcher, executor *strategy.Executor,
	claimer Claimer, version string, lists PrecacheLists, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:           store,
		fetcher:         fetcher,
		executor:        executor,
		claimer:         claimer,
		logger:          logger,
		version:         version,
		lists:           lists,
		precacheTimeout: 30 * time.Second,
		state:           StateNew,
	}
}

// SetPrecacheTimeout overrides the bound on each install and preload
// fetch. Non-positive values keep the current bound.
func (m *Manager) SetPrecacheTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.precacheTimeout = d
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Version returns the version this manager deploys.
func (m *Manager) Version() string {
	return m.version
}

// Install precaches all static assets and critical-API paths into
// their partitions.
//
// Description:
//
//	All-or-nothing: the precache items are fetched concurrently and
//	failure of any item fails the whole install, so a half-cached
//	version never becomes active. Re-running install for the same
//	version overwrites entries in place and produces no duplicates.
//
// Outputs:
//
//	error - ErrInstallFailed wrapping the first item failure.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateNew && m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("install from state %s", state)
	}
	m.state = StateInstalling
	m.mu.Unlock()

	manifest, err := m.store.Manifest()
	if err != nil {
		m.setState(StateFailed)
		return err
	}
	m.mu.Lock()
	m.prevVersion = manifest.Version
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	precache := func(urls []string, logical string) {
		for _, u := range urls {
			g.Go(func() error {
				return m.precacheOne(gctx, u, partition.Name(logical, m.version))
			})
		}
	}
	precache(m.lists.StaticAssets, strategy.PartitionStatic)
	precache(m.lists.CriticalAPI, strategy.PartitionAPI)

	if err := g.Wait(); err != nil {
		m.setState(StateFailed)
		m.logger.Error("install failed", "version", m.version, "error", err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	m.setState(StateWaiting)
	m.logger.Info("install complete",
		"version", m.version,
		"static_assets", len(m.lists.StaticAssets),
		"critical_api", len(m.lists.CriticalAPI),
	)
	return nil
}

func (m *Manager) precacheOne(ctx context.Context, url, partitionName string) error {
	m.mu.Lock()
	timeout := m.precacheTimeout
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := strategy.Request{Method: http.MethodGet, URL: url}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("precache %s: %w", url, err)
	}
	if resp.Status >= http.StatusBadRequest {
		return fmt.Errorf("precache %s: status %d", url, resp.Status)
	}

	entry := partition.Entry{
		Status:   resp.Status,
		Headers:  resp.Headers,
		Body:     resp.Body,
		StoredAt: time.Now().UTC(),
	}
	if err := m.store.Put(partitionName, req.Key(), entry); err != nil {
		// Install is the one path where a cache write failure matters:
		// an incomplete precache must abort the version.
		return fmt.Errorf("precache store %s: %w", url, err)
	}
	return nil
}

// Activate transitions Waiting -> Activating -> Active.
//
// Description:
//
//	Deletes every partition outside the current version's manifest
//	(serialized inside the store, so in-flight reads never observe a
//	half-deleted partition), switches the executor to the new version,
//	kicks off the best-effort important-API preload, and claims
//	connected application instances. The version is Active only after
//	cleanup completes. A manifest conflict defers activation: state
//	returns to Waiting and nothing is deleted.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWaiting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotWaiting, state)
	}
	m.state = StateActivating
	prev := m.prevVersion
	m.mu.Unlock()

	allowed := []string{
		partition.Name(strategy.PartitionStatic, m.version),
		partition.Name(strategy.PartitionDynamic, m.version),
		partition.Name(strategy.PartitionAPI, m.version),
	}

	if err := m.store.ActivateVersion(m.version, allowed, prev); err != nil {
		if errors.Is(err, partition.ErrVersionConflict) {
			m.setState(StateWaiting)
			m.logger.Warn("activation deferred", "version", m.version, "error", err)
			return err
		}
		m.setState(StateFailed)
		return err
	}

	if m.executor != nil {
		m.executor.SetVersion(m.version)
	}
	m.setState(StateActive)
	m.logger.Info("version active", "version", m.version)

	// Preload is best-effort and must not block activation.
	go m.RefreshImportant(context.WithoutCancel(ctx))

	if m.claimer != nil {
		m.claimer.Claim(m.version)
	}
	return nil
}

// SkipWaiting forces the Waiting -> Activating transition
// (the SKIP_WAITING control message).
func (m *Manager) SkipWaiting(ctx context.Context) error {
	return m.Activate(ctx)
}

// RefreshImportant fetches the important-API path list into the
// dynamic partition. Best-effort: failures are logged and counted,
// never returned. Used by activation preload and CACHE_UPDATE.
func (m *Manager) RefreshImportant(ctx context.Context) {
	dynamic := partition.Name(strategy.PartitionDynamic, m.version)

	var failed int
	for _, u := range m.lists.ImportantAPI {
		if err := m.precacheOne(ctx, u, dynamic); err != nil {
			failed++
			m.logger.Warn("important preload failed", "url", u, "error", err)
		}
	}
	m.logger.Info("important preload done",
		"version", m.version,
		"total", len(m.lists.ImportantAPI),
		"failed", failed,
	)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
