// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chartflow/edgeagent/services/agent/push"
)

// HandlePush accepts an inbound push message and relays it to
// connected instances.
func HandlePush(dispatcher *push.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg push.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := dispatcher.Dispatch(msg); err != nil {
			if errors.Is(err, push.ErrNoTitle) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "dispatched"})
	}
}

// InteractionRequest reports what the user did with a notification.
type InteractionRequest struct {
	Action  push.Action  `json:"action" binding:"required"`
	Message push.Message `json:"message"`
}

// HandleNotificationInteraction routes a notification click or
// dismissal back through the dispatcher.
func HandleNotificationInteraction(dispatcher *push.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InteractionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dispatcher.HandleInteraction(req.Action, req.Message)
		c.JSON(http.StatusOK, gin.H{"status": "handled"})
	}
}
