// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chartflow/edgeagent/services/agent/lifecycle"
	"github.com/chartflow/edgeagent/services/agent/syncqueue"
)

// HealthCheck reports the agent's lifecycle state, active version and
// pending sync depth.
func HealthCheck(manager *lifecycle.Manager, queue *syncqueue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := queue.Len()
		if err != nil {
			pending = -1
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"state":        manager.State().String(),
			"version":      manager.Version(),
			"sync_pending": pending,
		})
	}
}

// HandleSyncTrigger schedules a drain of the sync queue. The drain
// itself runs in the agent loop; the response only confirms scheduling.
func HandleSyncTrigger(trigger func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		trigger()
		c.JSON(http.StatusAccepted, gin.H{"status": "sync scheduled"})
	}
}
