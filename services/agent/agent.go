// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent assembles the interception components and exposes the
// host-runtime callback points.
//
// # Description
//
// One Agent owns the partition store, strategy executor, lifecycle
// manager, sync queue, control hub and push dispatcher for a single
// deployed version. The On* methods form the dispatch table the host
// runtime (HTTP surface, CLI) calls into; none of them blocks the
// caller on long work beyond a context-bounded network or storage leg.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/chartflow/edgeagent/services/agent/classify"
	"github.com/chartflow/edgeagent/services/agent/config"
	"github.com/chartflow/edgeagent/services/agent/control"
	"github.com/chartflow/edgeagent/services/agent/handlers"
	"github.com/chartflow/edgeagent/services/agent/lifecycle"
	"github.com/chartflow/edgeagent/services/agent/partition"
	"github.com/chartflow/edgeagent/services/agent/push"
	"github.com/chartflow/edgeagent/services/agent/routes"
	"github.com/chartflow/edgeagent/services/agent/strategy"
	"github.com/chartflow/edgeagent/services/agent/syncqueue"
)

// Agent wires one deployed version's components together.
type Agent struct {
	cfg    config.AgentConfig
	logger *slog.Logger

	store      *partition.Store
	classifier *classify.Classifier
	fetcher    strategy.Fetcher
	executor   *strategy.Executor
	manager    *lifecycle.Manager
	queue      *syncqueue.Queue
	hub        *control.Hub
	control    *control.Handler
	push       *push.Dispatcher

	syncCh chan struct{}
}

// Options overrides pieces of the default assembly. Zero value uses
// the real network fetcher and the configured precache lists.
type Options struct {
	// Fetcher replaces the upstream HTTP fetcher (tests).
	Fetcher strategy.Fetcher
	// Lists are the precache path lists for install/activate.
	Lists lifecycle.PrecacheLists
}

// New assembles an Agent for the given deployed version over an open
// badger database.
func New(cfg config.AgentConfig, db *badger.DB, version string, opts Options, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := partition.NewStore(db, logger)
	classifier := classify.NewClassifier(cfg.Classify.Rules())

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = strategy.NewHTTPFetcher(cfg.Upstream.BaseURL, &http.Client{})
	}

	execCfg := strategy.DefaultConfig()
	execCfg.DefaultTimeout = cfg.Upstream.Timeout
	execCfg.Timeouts = cfg.Cache.ClassTimeouts()
	execCfg.RevalidateRPS = cfg.Cache.RevalidateRPS
	execCfg.RevalidateBurst = cfg.Cache.RevalidateBurst

	// Until this deployment activates, interceptions and version
	// queries run against the version the last activation recorded.
	manifest, err := store.Manifest()
	if err != nil {
		return nil, fmt.Errorf("reading partition manifest: %w", err)
	}
	activeVersion := manifest.Version
	if activeVersion == "" {
		activeVersion = version
	}
	executor := strategy.NewExecutor(store, fetcher, activeVersion, execCfg, logger)

	queue, err := syncqueue.New(db, syncqueue.Config{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffBase: cfg.Sync.BackoffBase,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sync queue: %w", err)
	}

	hub := control.NewHub(logger)
	dispatcher := push.NewDispatcher(hub, logger)
	manager := lifecycle.NewManager(store, fetcher, executor, hub, version, opts.Lists, logger)
	manager.SetPrecacheTimeout(cfg.Cache.PrecacheTimeout)

	a := &Agent{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		classifier: classifier,
		fetcher:    fetcher,
		executor:   executor,
		manager:    manager,
		queue:      queue,
		hub:        hub,
		push:       dispatcher,
		syncCh:     make(chan struct{}, 1),
	}
	a.control = control.NewHandler(hub, control.Callbacks{
		Version:     executor.Version,
		SkipWaiting: manager.SkipWaiting,
		CacheUpdate: func(ctx context.Context) { go manager.RefreshImportant(ctx) },
		ClearCache:  func(context.Context) error { return store.DeleteAll() },
	}, logger)
	return a, nil
}

// Close releases the agent's queue resources. The badger database is
// owned by the caller and closed separately.
func (a *Agent) Close() error {
	return a.queue.Close()
}

// Manager exposes the lifecycle manager for status reporting.
func (a *Agent) Manager() *lifecycle.Manager {
	return a.manager
}

// Queue exposes the sync queue for diagnostics.
func (a *Agent) Queue() *syncqueue.Queue {
	return a.queue
}

// ReloadRules swaps the classifier rules, typically from a config
// file change.
func (a *Agent) ReloadRules(rules classify.Rules) {
	a.classifier.Reload(rules)
	a.logger.Info("classifier rules reloaded")
}

// SetupRoutes registers the agent's HTTP surface on router.
func (a *Agent) SetupRoutes(router *gin.Engine) {
	routes.SetupRoutes(router, routes.Deps{
		Classifier:  a.classifier,
		Executor:    a.executor,
		Fetcher:     a.fetcher,
		Queue:       a.queue,
		Manager:     a.manager,
		Hub:         a.hub,
		Control:     a.control,
		Push:        a.push,
		SyncTrigger: a.OnSyncTrigger,
		Logger:      a.logger,
	})
}

// OnInstall precaches the deployed version's assets.
func (a *Agent) OnInstall(ctx context.Context) error {
	return a.manager.Install(ctx)
}

// OnActivate makes the deployed version current.
func (a *Agent) OnActivate(ctx context.Context) error {
	return a.manager.Activate(ctx)
}

// OnIntercept classifies and executes one intercepted read request.
func (a *Agent) OnIntercept(ctx context.Context, req strategy.Request) strategy.Response {
	class := a.classifier.Classify(req.Method, req.URL, req.Headers.Get("Accept"))
	return a.executor.Execute(ctx, req, class)
}

// OnPush relays an inbound push message to connected instances.
func (a *Agent) OnPush(msg push.Message) error {
	return a.push.Dispatch(msg)
}

// OnNotificationInteraction routes a notification click or dismissal.
func (a *Agent) OnNotificationInteraction(action push.Action, msg push.Message) {
	a.push.HandleInteraction(action, msg)
}

// OnControlMessage processes one control channel frame.
func (a *Agent) OnControlMessage(ctx context.Context, client *control.Client, msg control.Message) {
	a.control.Handle(ctx, client, msg)
}

// OnSyncTrigger schedules a drain of the sync queue. Never blocks; a
// drain already pending absorbs the trigger.
func (a *Agent) OnSyncTrigger() {
	select {
	case a.syncCh <- struct{}{}:
	default:
	}
}

// RunSyncLoop drains the sync queue whenever triggered, retrying
// failed drains on an exponential backoff. Blocks until ctx is
// cancelled; run in a goroutine.
func (a *Agent) RunSyncLoop(ctx context.Context) {
	bo := a.queue.NewDrainBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.syncCh:
		}

		for {
			report, err := a.queue.Drain(ctx, a.replayTask)
			if err != nil {
				a.logger.Error("sync drain failed", "error", err)
				break
			}
			if report.Succeeded > 0 {
				a.hub.NotifySyncComplete(report.Succeeded, report.Attempted)
			}
			for _, task := range report.Dropped {
				a.logger.Warn("sync task dropped after retry cap",
					"task_id", task.ID,
					"attempts", task.Attempts,
					"last_error", task.LastError)
			}
			if report.Failed == 0 {
				bo.Reset()
				break
			}
			wait := bo.NextBackOff()
			a.logger.Info("sync drain incomplete, retrying",
				"failed", report.Failed,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// replayTask re-issues one queued mutation against the upstream.
func (a *Agent) replayTask(ctx context.Context, task syncqueue.Task) error {
	var payload handlers.MutationPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decoding replay payload: %w", err)
	}
	resp, err := a.fetcher.Fetch(ctx, strategy.Request{
		Method:  payload.Method,
		URL:     payload.URL,
		Headers: payload.Headers,
		Body:    payload.Body,
	})
	if err != nil {
		return err
	}
	if resp.Status >= http.StatusInternalServerError {
		return fmt.Errorf("upstream returned %d", resp.Status)
	}
	return nil
}
