// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package control implements the bidirectional message protocol
// between the agent and live application instances.
//
// Instances connect over a WebSocket; the hub tracks them and carries
// three traffic kinds: control request/response pairs (GET_VERSION,
// SKIP_WAITING, CACHE_UPDATE, CLEAR_CACHE), activation claims, and
// push/sync notifications fanned out to every instance.
package control

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chartflow/edgeagent/services/agent/push"
)

// MessageType tags a protocol frame.
type MessageType string

const (
	// Client -> agent requests.
	MsgGetVersion  MessageType = "GET_VERSION"
	MsgSkipWaiting MessageType = "SKIP_WAITING"
	MsgCacheUpdate MessageType = "CACHE_UPDATE"
	MsgClearCache  MessageType = "CLEAR_CACHE"
	MsgNavigated   MessageType = "NAVIGATED"

	// Agent -> client responses and events.
	MsgVersion      MessageType = "VERSION"
	MsgAck          MessageType = "ACK"
	MsgError        MessageType = "ERROR"
	MsgClaim        MessageType = "CLAIM"
	MsgNotification MessageType = "NOTIFICATION"
	MsgSyncComplete MessageType = "SYNC_COMPLETE"
	MsgFocus        MessageType = "FOCUS"
	MsgNavigate     MessageType = "NAVIGATE"
)

// Message is one protocol frame. RequestID correlates a response with
// its request; event frames leave it empty.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func mustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload types here are plain structs; this cannot fail.
		panic(err)
	}
	return data
}

// Conn is the client transport. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
}

// Client is one connected application instance.
type Client struct {
	ID string

	mu   sync.Mutex
	conn Conn
	url  string
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// URL returns the instance's last reported location.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Hub tracks connected instances.
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a connected instance and returns its handle.
func (h *Hub) Register(conn Conn, url string) *Client {
	client := &Client{
		ID:   uuid.New().String(),
		conn: conn,
		url:  url,
	}
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Info("instance connected", "client_id", client.ID, "url", url)
	return client
}

// Unregister removes an instance, typically on socket close.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
	h.logger.Info("instance disconnected", "client_id", id)
}

// SetURL records an instance's navigation (the NAVIGATED frame).
func (h *Hub) SetURL(id, url string) {
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.mu.Lock()
	client.url = url
	client.mu.Unlock()
}

// Count returns the number of connected instances.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event frame to every connected instance.
// Write failures are logged; the dead socket's reader will unregister.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			h.logger.Warn("broadcast failed", "client_id", c.ID, "error", err)
		}
	}
}

// Claim tells every open instance to route through the newly
// activated version immediately.
func (h *Hub) Claim(version string) {
	h.Broadcast(Message{
		Type:    MsgClaim,
		Payload: mustPayload(map[string]string{"version": version}),
	})
}

// NotifySyncComplete surfaces a drain completion summary to the user.
func (h *Hub) NotifySyncComplete(succeeded, attempted int) {
	h.Broadcast(Message{
		Type: MsgSyncComplete,
		Payload: mustPayload(map[string]int{
			"succeeded": succeeded,
			"attempted": attempted,
		}),
	})
}

// ShowNotification fans a push message out to every instance.
// Implements push.Presenter.
func (h *Hub) ShowNotification(msg push.Message) {
	h.Broadcast(Message{
		Type:    MsgNotification,
		Payload: mustPayload(msg),
	})
}

// FocusOrNavigate focuses the instance already showing url, else
// navigates one arbitrary instance there. Implements push.Presenter.
func (h *Hub) FocusOrNavigate(url string) bool {
	h.mu.RLock()
	var match, any *Client
	for _, c := range h.clients {
		if any == nil {
			any = c
		}
		if c.URL() == url {
			match = c
			break
		}
	}
	h.mu.RUnlock()

	if match != nil {
		if err := match.send(Message{Type: MsgFocus, Payload: mustPayload(map[string]string{"url": url})}); err == nil {
			return true
		}
		return false
	}
	if any != nil {
		if err := any.send(Message{Type: MsgNavigate, Payload: mustPayload(map[string]string{"url": url})}); err == nil {
			return true
		}
	}
	return false
}

var _ push.Presenter = (*Hub)(nil)
