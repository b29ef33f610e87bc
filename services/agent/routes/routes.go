// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chartflow/edgeagent/services/agent/classify"
	"github.com/chartflow/edgeagent/services/agent/control"
	"github.com/chartflow/edgeagent/services/agent/handlers"
	"github.com/chartflow/edgeagent/services/agent/lifecycle"
	"github.com/chartflow/edgeagent/services/agent/observability"
	"github.com/chartflow/edgeagent/services/agent/push"
	"github.com/chartflow/edgeagent/services/agent/strategy"
	"github.com/chartflow/edgeagent/services/agent/syncqueue"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Classifier  *classify.Classifier
	Executor    *strategy.Executor
	Fetcher     strategy.Fetcher
	Queue       *syncqueue.Queue
	Manager     *lifecycle.Manager
	Hub         *control.Hub
	Control     *control.Handler
	Push        *push.Dispatcher
	SyncTrigger func()
	Logger      *slog.Logger
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("edgeagent"))

	router.GET("/health", handlers.HealthCheck(deps.Manager, deps.Queue))
	if h := observability.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.Any("/intercept/*path", handlers.HandleIntercept(
			deps.Classifier, deps.Executor, deps.Fetcher, deps.Queue, deps.Logger))
		v1.GET("/control/ws", handlers.HandleControlWS(deps.Hub, deps.Control, deps.Logger))
		v1.POST("/push", handlers.HandlePush(deps.Push))
		v1.POST("/push/interaction", handlers.HandleNotificationInteraction(deps.Push))
		v1.POST("/sync", handlers.HandleSyncTrigger(deps.SyncTrigger))
	}
}
