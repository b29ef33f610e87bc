// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chartflow/edgeagent/services/agent/control"
)

var upgrader = websocket.Upgrader{
	// The agent only listens on loopback; instances connect from
	// file:// and app:// origins that never match the Host header.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleControlWS upgrades an application instance onto the control
// channel and pumps its messages until the socket closes.
func HandleControlWS(hub *control.Hub, handler *control.Handler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		client := hub.Register(ws, c.Query("url"))
		defer hub.Unregister(client.ID)

		for {
			var msg control.Message
			if err := ws.ReadJSON(&msg); err != nil {
				logger.Info("control client disconnected", "client_id", client.ID, "error", err.Error())
				return
			}
			handler.Handle(c.Request.Context(), client, msg)
		}
	}
}
