// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chartflow/edgeagent/services/agent/config"
)

var (
	cfgPath string
	cfg     config.AgentConfig
)

var rootCmd = &cobra.Command{
	Use:   "edgeagent",
	Short: "Local interception and offline-caching agent for Chartflow",
	Long: `edgeagent sits between Chartflow application instances and the
network. It intercepts outbound requests, serves cached responses
while offline, queues mutations for replay, and relays push
notifications to connected instances.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default ~/.edgeagent/edgeagent.yaml)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfgPath = path
		return nil
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCacheCmd)
}
