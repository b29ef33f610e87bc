// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers holds the gin handlers for the agent's HTTP surface.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chartflow/edgeagent/services/agent/classify"
	"github.com/chartflow/edgeagent/services/agent/strategy"
	"github.com/chartflow/edgeagent/services/agent/syncqueue"
)

// maxInterceptBody caps the request body the agent will buffer for a
// mutating request (and so for a queued replay payload).
const maxInterceptBody = 8 * 1024 * 1024

// MutationPayload is the durable form of a mutating request that
// failed on the network and was queued for replay.
type MutationPayload struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// HandleIntercept proxies every application request through the agent.
//
// # Description
//
// Read requests (GET, HEAD) are classified and served through the
// strategy executor, which decides between cache and network. Mutating
// requests go straight to the network; when the network is down they
// are enqueued for replay and answered 202 so the application can
// treat the write as accepted.
func HandleIntercept(classifier *classify.Classifier, exec *strategy.Executor,
	fetcher strategy.Fetcher, queue *syncqueue.Queue, logger *slog.Logger) gin.HandlerFunc {

	return func(c *gin.Context) {
		url := c.Param("path")
		if raw := c.Request.URL.RawQuery; raw != "" {
			url += "?" + raw
		}

		req := strategy.Request{
			Method:  c.Request.Method,
			URL:     url,
			Headers: c.Request.Header,
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
			class := classifier.Classify(req.Method, url, c.GetHeader("Accept"))
			resp := exec.Execute(c.Request.Context(), req, class)
			writeResponse(c, resp)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInterceptBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		req.Body = body

		resp, err := fetcher.Fetch(c.Request.Context(), req)
		if err == nil {
			writeResponse(c, resp)
			return
		}

		payload, err := json.Marshal(MutationPayload{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    body,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode replay payload"})
			return
		}
		task, err := queue.Enqueue(payload)
		if err != nil {
			logger.Error("failed to queue offline mutation", "method", req.Method, "url", url, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "offline", "message": "mutation could not be queued"})
			return
		}

		logger.Info("mutation queued for replay", "method", req.Method, "url", url, "task_id", task.ID)
		c.JSON(http.StatusAccepted, gin.H{
			"queued":  true,
			"task_id": task.ID,
		})
	}
}

func writeResponse(c *gin.Context, resp strategy.Response) {
	header := c.Writer.Header()
	for name, values := range resp.Headers {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	c.Status(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}
