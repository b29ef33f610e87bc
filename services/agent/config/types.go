// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import "time"

type AgentConfig struct {
	// Version is the deployed cache version this agent serves.
	Version string `yaml:"version" validate:"required"`

	// Server: where the agent listens for app instances
	Server ServerConfig `yaml:"server"`

	// Upstream: the origin the agent fetches on behalf of instances
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage: embedded cache database settings
	Storage StorageConfig `yaml:"storage"`

	// Cache: execution strategy tuning
	Cache CacheConfig `yaml:"cache"`

	// Classify: path rules per resource class, hot-reloadable
	Classify ClassifyConfig `yaml:"classify"`

	// Precache: concrete URLs warmed during install/activate
	Precache PrecacheConfig `yaml:"precache"`

	// Sync: durable replay queue tuning
	Sync SyncConfig `yaml:"sync"`

	// Logging: level and file output
	Logging LoggingConfig `yaml:"logging"`

	// Observability: metrics and tracing toggles
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type StorageConfig struct {
	DataDir    string        `yaml:"data_dir" validate:"required"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type CacheConfig struct {
	// CriticalTimeout bounds the network wait for critical API
	// requests before falling back to cached data.
	CriticalTimeout time.Duration `yaml:"critical_timeout" validate:"gt=0"`
	RevalidateRPS   float64       `yaml:"revalidate_rps" validate:"gt=0"`
	RevalidateBurst int           `yaml:"revalidate_burst" validate:"gt=0"`
	// PrecacheTimeout bounds each install-phase precache fetch.
	PrecacheTimeout time.Duration `yaml:"precache_timeout" validate:"gt=0"`
	// Timeouts overrides the network timeout per resource class, keyed
	// by class name (static_asset, critical_api, important_api,
	// normal_api, image, other). A critical_api entry here wins over
	// CriticalTimeout.
	Timeouts map[string]time.Duration `yaml:"timeouts" validate:"dive,keys,oneof=static_asset critical_api important_api normal_api image other,endkeys,gt=0"`
}

type ClassifyConfig struct {
	StaticAssetPaths  []string `yaml:"static_asset_paths"`
	CriticalAPIPaths  []string `yaml:"critical_api_paths"`
	ImportantAPIPaths []string `yaml:"important_api_paths"`
	NormalAPIPaths    []string `yaml:"normal_api_paths"`
}

type PrecacheConfig struct {
	// StaticAssets are fetched during install; any failure aborts it.
	StaticAssets []string `yaml:"static_assets"`
	// CriticalAPI endpoints are fetched during install alongside the
	// static assets.
	CriticalAPI []string `yaml:"critical_api"`
	// ImportantAPI endpoints are refreshed best-effort after
	// activation.
	ImportantAPI []string `yaml:"important_api"`
}

type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gt=0"`
	BackoffBase time.Duration `yaml:"backoff_base" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
}

type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	TraceStdout bool `yaml:"trace_stdout"`
}

func DefaultConfig() AgentConfig {
	return AgentConfig{
		Version: "v1",
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8787",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://app.chartflow.io",
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "~/.edgeagent/cache",
			// Cached responses and queued mutations must survive a
			// crash; the store is written with fsync on.
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Cache: CacheConfig{
			CriticalTimeout: 3 * time.Second,
			RevalidateRPS:   10,
			RevalidateBurst: 20,
			PrecacheTimeout: 30 * time.Second,
		},
		Classify: ClassifyConfig{},
		Precache: PrecacheConfig{
			StaticAssets: []string{"/", "/static/app.js", "/static/app.css"},
			CriticalAPI:  []string{"/api/session", "/api/symbols"},
			ImportantAPI: []string{"/api/watchlists", "/api/settings"},
		},
		Sync: SyncConfig{
			MaxAttempts: 5,
			BackoffBase: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.edgeagent/logs",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			TraceStdout: false,
		},
	}
}
