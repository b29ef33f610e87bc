// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chartflow/edgeagent/services/agent/classify"
)

var validate = validator.New()

// DefaultPath returns the per-user config location,
// ~/.edgeagent/edgeagent.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".edgeagent", "edgeagent.yaml"), nil
}

// Load reads the config at path, creating a default file on first run.
// The returned config has passed validation.
func Load(path string) (AgentConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return AgentConfig{}, err
		}
	}
	return loadFile(path)
}

func loadFile(path string) (AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	// Start from defaults so a sparse file only overrides what it names.
	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Rules converts the classify section into matcher rules. Empty
// sections fall back to the built-in defaults so a fresh install
// classifies sensibly without hand-written path lists.
func (c ClassifyConfig) Rules() classify.Rules {
	rules := classify.DefaultRules()
	if len(c.StaticAssetPaths) > 0 {
		rules.StaticAssetPaths = c.StaticAssetPaths
	}
	if len(c.CriticalAPIPaths) > 0 {
		rules.CriticalAPIPaths = c.CriticalAPIPaths
	}
	if len(c.ImportantAPIPaths) > 0 {
		rules.ImportantAPIPaths = c.ImportantAPIPaths
	}
	if len(c.NormalAPIPaths) > 0 {
		rules.NormalAPIPaths = c.NormalAPIPaths
	}
	return rules
}

// ClassTimeouts converts the cache section into per-class executor
// timeout overrides. CriticalTimeout seeds the critical_api entry; an
// explicit timeouts entry replaces it. Unknown class names were
// rejected by validation.
func (c CacheConfig) ClassTimeouts() map[classify.ResourceClass]time.Duration {
	out := map[classify.ResourceClass]time.Duration{
		classify.ClassCriticalAPI: c.CriticalTimeout,
	}
	for name, d := range c.Timeouts {
		class, ok := classify.ParseClass(name)
		if !ok {
			continue
		}
		out[class] = d
	}
	return out
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
