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
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/chartflow/edgeagent/services/agent/control"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop every cached entry in a running agent",
	Long: `Connects to a running agent over the control channel and issues a
CLEAR_CACHE request. All partitions are deleted; the next install
rebuilds them.`,
	RunE: runClearCache,
}

func runClearCache(cmd *cobra.Command, args []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial("ws://"+cfg.Server.ListenAddr+"/v1/control/ws", nil)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", cfg.Server.ListenAddr, err)
	}
	defer ws.Close()

	requestID := uuid.New().String()
	if err := ws.WriteJSON(control.Message{
		Type:      control.MsgClearCache,
		RequestID: requestID,
	}); err != nil {
		return fmt.Errorf("sending clear request: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	_ = ws.SetReadDeadline(deadline)
	for {
		var msg control.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("waiting for ack: %w", err)
		}
		if msg.RequestID != requestID {
			// Broadcast frames (claims, notifications) may interleave.
			continue
		}
		switch msg.Type {
		case control.MsgAck:
			fmt.Println("cache cleared")
			return nil
		case control.MsgError:
			var p struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(msg.Payload, &p)
			return fmt.Errorf("agent refused: %s", p.Error)
		}
	}
}
