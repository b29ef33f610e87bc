// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package control

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Callbacks are the agent-side operations the control channel can
// invoke. Each field must be non-nil.
type Callbacks struct {
	// Version reports the currently active cache version.
	Version func() string
	// SkipWaiting forces a version waiting to activate to take over.
	SkipWaiting func(ctx context.Context) error
	// CacheUpdate refreshes the important-API warm set in the background.
	CacheUpdate func(ctx context.Context)
	// ClearCache drops every cached entry across all partitions.
	ClearCache func(ctx context.Context) error
}

// Handler turns inbound control frames into agent operations.
type Handler struct {
	hub    *Hub
	cb     Callbacks
	logger *slog.Logger
}

// NewHandler wires a Handler to the hub and the agent callbacks.
func NewHandler(hub *Hub, cb Callbacks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, cb: cb, logger: logger}
}

// Handle processes one frame from client and writes the response, if
// any, back on the same client. Unknown types get an ERROR frame so a
// newer app build talking to an older agent fails loudly.
func (h *Handler) Handle(ctx context.Context, client *Client, msg Message) {
	switch msg.Type {
	case MsgGetVersion:
		h.reply(client, Message{
			Type:      MsgVersion,
			RequestID: msg.RequestID,
			Payload:   mustPayload(map[string]string{"version": h.cb.Version()}),
		})

	case MsgSkipWaiting:
		if err := h.cb.SkipWaiting(ctx); err != nil {
			h.replyError(client, msg.RequestID, err)
			return
		}
		h.ack(client, msg.RequestID)

	case MsgCacheUpdate:
		// Refresh runs detached; the ack only confirms receipt.
		h.cb.CacheUpdate(context.WithoutCancel(ctx))
		h.ack(client, msg.RequestID)

	case MsgClearCache:
		if err := h.cb.ClearCache(ctx); err != nil {
			h.replyError(client, msg.RequestID, err)
			return
		}
		h.ack(client, msg.RequestID)

	case MsgNavigated:
		var p struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.logger.Warn("bad NAVIGATED payload", "client_id", client.ID, "error", err)
			return
		}
		h.hub.SetURL(client.ID, p.URL)

	default:
		h.logger.Warn("unknown control message", "client_id", client.ID, "type", msg.Type)
		h.replyError(client, msg.RequestID, errUnknownType(msg.Type))
	}
}

func (h *Handler) ack(client *Client, requestID string) {
	h.reply(client, Message{Type: MsgAck, RequestID: requestID})
}

func (h *Handler) replyError(client *Client, requestID string, err error) {
	h.reply(client, Message{
		Type:      MsgError,
		RequestID: requestID,
		Payload:   mustPayload(map[string]string{"error": err.Error()}),
	})
}

func (h *Handler) reply(client *Client, msg Message) {
	if err := client.send(msg); err != nil {
		h.logger.Warn("control reply failed", "client_id", client.ID, "error", err)
	}
}

type errUnknownType MessageType

func (e errUnknownType) Error() string {
	return "unknown message type: " + string(e)
}
