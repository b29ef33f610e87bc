// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running agent's lifecycle state and version",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

type statusResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Version     string `json:"version"`
	SyncPending int    `json:"sync_pending"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.Server.ListenAddr + "/health")
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", cfg.Server.ListenAddr, err)
	}
	defer resp.Body.Close()

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	if statusJSON {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("state:        %s\n", st.State)
	fmt.Printf("version:      %s\n", st.Version)
	fmt.Printf("sync pending: %d\n", st.SyncPending)
	return nil
}
