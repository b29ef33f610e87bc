// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenter struct {
	shown     []Message
	focused   []string
	reachable bool
}

func (p *fakePresenter) ShowNotification(msg Message) {
	p.shown = append(p.shown, msg)
}

func (p *fakePresenter) FocusOrNavigate(url string) bool {
	p.focused = append(p.focused, url)
	return p.reachable
}

func TestDispatch(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	msg := Message{
		Title:    "Price alert",
		Body:     "AAPL crossed 200",
		URL:      "/charts/AAPL",
		Category: "alerts",
	}
	require.NoError(t, d.Dispatch(msg))
	require.Len(t, p.shown, 1)
	assert.Equal(t, "Price alert", p.shown[0].Title)
	// Tag defaults to the category when unset.
	assert.Equal(t, "alerts", p.shown[0].Tag)
}

func TestDispatchNormalizesSymbol(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	msg := Message{Title: "Price alert", Symbol: " aapl "}
	require.NoError(t, d.Dispatch(msg))
	require.Len(t, p.shown, 1)
	assert.Equal(t, "AAPL", p.shown[0].Symbol)
}

func TestDispatchAcceptsCryptoPair(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	require.NoError(t, d.Dispatch(Message{Title: "Price alert", Symbol: "btc-usd"}))
	require.Len(t, p.shown, 1)
	assert.Equal(t, "BTC-USD", p.shown[0].Symbol)
}

func TestDispatchRejectsBadSymbol(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	err := d.Dispatch(Message{Title: "Price alert", Symbol: "AAPL/../admin"})
	require.Error(t, err)
	assert.Empty(t, p.shown)
}

func TestDispatchKeepsExplicitTag(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	require.NoError(t, d.Dispatch(Message{Title: "x", Category: "alerts", Tag: "alert-AAPL"}))
	assert.Equal(t, "alert-AAPL", p.shown[0].Tag)
}

func TestDispatchRejectsUntitled(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	assert.ErrorIs(t, d.Dispatch(Message{Body: "no title"}), ErrNoTitle)
	assert.Empty(t, p.shown)
}

func TestHandleInteractionOpen(t *testing.T) {
	p := &fakePresenter{reachable: true}
	d := NewDispatcher(p, nil)

	d.HandleInteraction(ActionOpen, Message{Title: "x", URL: "/charts/AAPL"})
	assert.Equal(t, []string{"/charts/AAPL"}, p.focused)
}

func TestHandleInteractionOpenNoURL(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	d.HandleInteraction(ActionOpen, Message{Title: "x"})
	assert.Empty(t, p.focused)
}

// TestHandleInteractionDismiss: dismiss has no side effect.
func TestHandleInteractionDismiss(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	d.HandleInteraction(ActionDismiss, Message{Title: "x", URL: "/charts/AAPL"})
	assert.Empty(t, p.focused)
	assert.Empty(t, p.shown)
}

func TestHandleInteractionUnknown(t *testing.T) {
	p := &fakePresenter{}
	d := NewDispatcher(p, nil)

	d.HandleInteraction(Action("archive"), Message{Title: "x", URL: "/y"})
	assert.Empty(t, p.focused)
}
