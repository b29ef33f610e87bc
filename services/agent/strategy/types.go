// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/chartflow/edgeagent/services/agent/classify"
	"github.com/chartflow/edgeagent/services/agent/partition"
)

// ErrNetworkUnavailable marks a failed or timed-out network leg.
// It is transient and handled inside the strategy; it never reaches
// the application-facing response path.
var ErrNetworkUnavailable = errors.New("network unavailable")

// Request is an intercepted outbound request.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Key returns the normalized request key. The body never participates.
func (r Request) Key() partition.Key {
	return partition.NewKey(r.Method, r.URL)
}

// Source records where a response came from, for logs and tests.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceUnavailable Source = "unavailable"
)

// Response is what the executor hands back to the application.
// The executor never returns an error: the terminal fallback for every
// strategy is the synthetic unavailable response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	Source  Source
}

// Unavailable builds the synthetic failure-marker response. All four
// strategies terminate in this same shape when both network and cache
// fail, so the application never special-cases per strategy.
func Unavailable() Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Cache-Status", "unavailable")
	return Response{
		Status:  http.StatusServiceUnavailable,
		Headers: h,
		Body:    []byte(`{"error":"offline","message":"resource unavailable"}`),
		Source:  SourceUnavailable,
	}
}

// Fetcher performs the network leg of a strategy. Implementations must
// honor ctx cancellation and deadlines; a deadline expiry is reported
// as an error and treated identically to network failure.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Type identifies one of the four retrieval algorithms.
type Type int

const (
	StaticFirst Type = iota
	NetworkFirst
	CacheFirst
	StaleWhileRevalidate
)

func (t Type) String() string {
	switch t {
	case StaticFirst:
		return "static_first"
	case NetworkFirst:
		return "network_first"
	case CacheFirst:
		return "cache_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "unknown"
	}
}

// For returns the strategy for a resource class. The mapping is fixed
// and total: no request is left unhandled.
func For(class classify.ResourceClass) Type {
	switch class {
	case classify.ClassStaticAsset:
		return StaticFirst
	case classify.ClassCriticalAPI:
		return NetworkFirst
	case classify.ClassImportantAPI:
		return StaleWhileRevalidate
	case classify.ClassImage:
		return CacheFirst
	default:
		// Normal API traffic and unclassified requests go network-first
		// so the dynamic partition stays warm for offline fallback.
		return NetworkFirst
	}
}
