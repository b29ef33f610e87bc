// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/chartflow/edgeagent/pkg/logging"
	"github.com/chartflow/edgeagent/services/agent"
	"github.com/chartflow/edgeagent/services/agent/config"
	"github.com/chartflow/edgeagent/services/agent/lifecycle"
	"github.com/chartflow/edgeagent/services/agent/lock"
	"github.com/chartflow/edgeagent/services/agent/observability"
	agentbadger "github.com/chartflow/edgeagent/services/agent/storage/badger"
)

var (
	serveVersion     string
	serveSkipInstall bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent daemon",
	Long: `Starts the agent: opens the cache store, installs and activates the
deployed version, then serves the intercept and control endpoints
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveVersion, "app-version", "",
		"deployed cache version to serve (overrides config)")
	serveCmd.Flags().BoolVar(&serveSkipInstall, "skip-install", false,
		"skip install/activate on startup (use a previously activated cache)")
}

func runServe(cmd *cobra.Command, args []string) error {
	version := cfg.Version
	if serveVersion != "" {
		version = serveVersion
	}

	lg := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "edgeagent",
	})
	defer lg.Close()
	logger := lg.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    "edgeagent",
		ServiceVersion: version,
		Metrics:        cfg.Observability.Metrics,
		TraceStdout:    cfg.Observability.TraceStdout,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	dataDir := config.ExpandPath(cfg.Storage.DataDir)
	stateLock, err := lock.Acquire(dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = stateLock.Release() }()

	dbCfg := agentbadger.DefaultConfig()
	dbCfg.Path = dataDir
	dbCfg.SyncWrites = cfg.Storage.SyncWrites
	dbCfg.GCInterval = cfg.Storage.GCInterval
	dbCfg.Logger = logger
	db, err := agentbadger.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer func() { _ = db.Close() }()

	a, err := agent.New(cfg, db.DB, version, agent.Options{
		Lists: lifecycle.PrecacheLists{
			StaticAssets: cfg.Precache.StaticAssets,
			CriticalAPI:  cfg.Precache.CriticalAPI,
			ImportantAPI: cfg.Precache.ImportantAPI,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !serveSkipInstall {
		logger.Info("installing deployed version", "version", version)
		if err := a.OnInstall(ctx); err != nil {
			return fmt.Errorf("install failed: %w", err)
		}
		if err := a.OnActivate(ctx); err != nil {
			return fmt.Errorf("activate failed: %w", err)
		}
		logger.Info("version active", "version", version)
	}

	go a.RunSyncLoop(ctx)
	a.OnSyncTrigger()

	watcher, err := config.NewWatcher(cfgPath, func(next config.AgentConfig) {
		a.ReloadRules(next.Classify.Rules())
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go watcher.Start(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	a.SetupRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	return nil
}
