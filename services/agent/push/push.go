// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package push relays push notifications into connected application
// instances and routes user interaction back into navigation.
//
// Messages are transient: nothing here persists beyond the display
// handoff. Rendering choices belong to the host platform; this package
// owns only the dispatch contract.
package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chartflow/edgeagent/pkg/validation"
)

// ErrNoTitle rejects a push message the host could not render.
var ErrNoTitle = errors.New("push message has no title")

// Message is one inbound push notification.
type Message struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Image              string `json:"image,omitempty"`
	URL                string `json:"url"`
	Category           string `json:"category,omitempty"`
	RequireInteraction bool   `json:"require_interaction,omitempty"`
	Tag                string `json:"tag,omitempty"`

	// Symbol is set on price-alert messages. It is normalized and
	// validated before dispatch since it ends up in navigation URLs.
	Symbol string `json:"symbol,omitempty"`
}

// Action is what the user did with a rendered notification.
type Action string

const (
	// ActionOpen is the default action: open the message URL, focusing
	// an instance already showing it.
	ActionOpen Action = "open"

	// ActionDismiss closes the notification with no other side effect.
	ActionDismiss Action = "dismiss"
)

// Presenter is the surface notifications are rendered through.
// The control hub implements it over connected instances.
type Presenter interface {
	// ShowNotification hands the message to connected instances.
	ShowNotification(msg Message)

	// FocusOrNavigate focuses an instance already showing url, or
	// navigates one there. Returns false when no instance is connected.
	FocusOrNavigate(url string) bool
}

// Dispatcher renders push messages and handles their interactions.
type Dispatcher struct {
	presenter Presenter
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher over a presenter.
func NewDispatcher(presenter Presenter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{presenter: presenter, logger: logger}
}

// Dispatch renders an inbound push message.
// Messages without a URL still render; their open action is a no-op.
func (d *Dispatcher) Dispatch(msg Message) error {
	if msg.Title == "" {
		return ErrNoTitle
	}
	if msg.Symbol != "" {
		symbol, err := validation.SanitizeSymbol(msg.Symbol)
		if err != nil {
			return fmt.Errorf("rejecting push message: %w", err)
		}
		msg.Symbol = symbol
	}
	if msg.Tag == "" {
		msg.Tag = msg.Category
	}
	d.presenter.ShowNotification(msg)
	d.logger.Debug("push dispatched", "tag", msg.Tag, "category", msg.Category)
	return nil
}

// HandleInteraction routes a notification interaction.
//
// The open action focuses an existing instance showing the URL, else
// navigates one. Dismiss performs no side effect beyond closing, which
// the host already did. Unknown actions are logged and ignored.
func (d *Dispatcher) HandleInteraction(action Action, msg Message) {
	switch action {
	case ActionOpen:
		if msg.URL == "" {
			return
		}
		if !d.presenter.FocusOrNavigate(msg.URL) {
			d.logger.Debug("no instance available for notification url", "url", msg.URL)
		}
	case ActionDismiss:
		// Nothing to do.
	default:
		d.logger.Warn("unknown notification action", "action", string(action))
	}
}
