// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package strategy executes the four request-serving algorithms
// against the cache partition store and the network.
//
// The executor is the only writer of cache entries. Every execution
// terminates in a response: cached bytes, network bytes, or the
// synthetic unavailable response. Cache-related failures are logged
// and never propagate to the application-facing path.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/chartflow/edgeagent/services/agent/classify"
	"github.com/chartflow/edgeagent/services/agent/partition"
)

// Logical partition names. On disk they are suffixed with the version.
const (
	PartitionStatic  = "static"
	PartitionDynamic = "dynamic"
	PartitionAPI     = "api"
)

// Config tunes the executor.
type Config struct {
	// DefaultTimeout bounds every network leg without a per-class override.
	DefaultTimeout time.Duration

	// Timeouts overrides the network timeout per resource class.
	Timeouts map[classify.ResourceClass]time.Duration

	// RevalidateRPS and RevalidateBurst throttle detached
	// stale-while-revalidate network calls.
	RevalidateRPS   float64
	RevalidateBurst int
}

// DefaultConfig returns production defaults: 5s network timeout, 3s
// for critical API calls, 10 revalidations per second.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Second,
		Timeouts: map[classify.ResourceClass]time.Duration{
			classify.ClassCriticalAPI: 3 * time.Second,
		},
		RevalidateRPS:   10,
		RevalidateBurst: 20,
	}
}

// Executor runs strategies for intercepted requests.
//
// Thread Safety: safe for concurrent use. The active version is read
// atomically per execution, so in-flight executions begun under the
// previous version finish against that version's partitions.
type Executor struct {
	store   *partition.Store
	fetcher Fetcher
	logger  *slog.Logger
	cfg     Config

	version atomic.Value // string

	reval   singleflight.Group
	limiter *rate.Limiter
}

// NewExecutor creates an Executor bound to a store and fetcher.
func NewExecutor(store *partition.Store, fetcher Fetcher, version string, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.RevalidateRPS <= 0 {
		cfg.RevalidateRPS = DefaultConfig().RevalidateRPS
	}
	if cfg.RevalidateBurst <= 0 {
		cfg.RevalidateBurst = DefaultConfig().RevalidateBurst
	}
	e := &Executor{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RevalidateRPS), cfg.RevalidateBurst),
	}
	e.version.Store(version)
	return e
}

// SetVersion switches the executor to a newly activated version.
// Executions already in flight keep the version they started with.
func (e *Executor) SetVersion(version string) {
	e.version.Store(version)
}

// Version returns the version executions currently run against.
func (e *Executor) Version() string {
	return e.version.Load().(string)
}

func (e *Executor) partitionName(logical string) string {
	return partition.Name(logical, e.Version())
}

// Execute serves one intercepted request through its strategy.
//
// Description:
//
//	Selects the strategy for the given class (fixed total mapping) and
//	runs it. Never returns an error: when both network and cache fail
//	the synthetic unavailable response is the terminal fallback.
//
// Inputs:
//
//	ctx - Caller context. Cancellation stops the network wait; an
//	      already-started cache write still completes.
//	req - The intercepted request.
//	class - Resource class assigned by the classifier.
//
// Outputs:
//
//	Response - Always valid; Source records its origin.
//
// Thread Safety: safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, req Request, class classify.ResourceClass) Response {
	st := For(class)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "strategy.execute", trace.WithAttributes(
		attribute.String("strategy", st.String()),
		attribute.String("class", class.String()),
		attribute.String("method", req.Method),
	))
	defer span.End()
	defer recordLatency(ctx, st, start)

	var resp Response
	switch st {
	case StaticFirst:
		resp = e.staticFirst(ctx, req, class)
	case NetworkFirst:
		resp = e.networkFirst(ctx, req, class)
	case CacheFirst:
		resp = e.cacheFirst(ctx, req, class)
	case StaleWhileRevalidate:
		resp = e.staleWhileRevalidate(ctx, req, class)
	default:
		resp = e.networkFirst(ctx, req, class)
	}

	span.SetAttributes(attribute.String("source", string(resp.Source)))
	return resp
}

// staticFirst serves from the static partition, falling back to the
// network exactly once. A static hit performs no network call.
func (e *Executor) staticFirst(ctx context.Context, req Request, class classify.ResourceClass) Response {
	key := req.Key()
	name := e.partitionName(PartitionStatic)

	if entry, err := e.store.Get(name, key); err == nil {
		recordHit(ctx, StaticFirst)
		return fromEntry(entry)
	} else if !errors.Is(err, partition.ErrCacheMiss) {
		e.logger.Warn("static partition read failed", "key", key.String(), "error", err)
	}
	recordMiss(ctx, StaticFirst)

	resp, err := e.fetch(ctx, req, class)
	if err != nil {
		recordNetworkFailure(ctx, StaticFirst)
		recordUnavailable(ctx, StaticFirst)
		return Unavailable()
	}
	e.storeResponse(name, key, resp)
	return resp
}

// networkFirst tries the network within its timeout, then the dynamic
// partition, then (for critical API traffic) the precached api
// partition, then the unavailable response.
func (e *Executor) networkFirst(ctx context.Context, req Request, class classify.ResourceClass) Response {
	key := req.Key()
	dynamic := e.partitionName(PartitionDynamic)

	resp, err := e.fetch(ctx, req, class)
	if err == nil {
		e.storeResponse(dynamic, key, resp)
		return resp
	}
	recordNetworkFailure(ctx, NetworkFirst)

	if entry, cerr := e.store.Get(dynamic, key); cerr == nil {
		recordHit(ctx, NetworkFirst)
		return fromEntry(entry)
	}
	if class == classify.ClassCriticalAPI {
		if entry, cerr := e.store.Get(e.partitionName(PartitionAPI), key); cerr == nil {
			recordHit(ctx, NetworkFirst)
			return fromEntry(entry)
		}
	}

	recordMiss(ctx, NetworkFirst)
	recordUnavailable(ctx, NetworkFirst)
	return Unavailable()
}

// cacheFirst serves from the dynamic partition, calling the network
// only on a miss.
func (e *Executor) cacheFirst(ctx context.Context, req Request, class classify.ResourceClass) Response {
	key := req.Key()
	dynamic := e.partitionName(PartitionDynamic)

	if entry, err := e.store.Get(dynamic, key); err == nil {
		recordHit(ctx, CacheFirst)
		return fromEntry(entry)
	}
	recordMiss(ctx, CacheFirst)

	resp, err := e.fetch(ctx, req, class)
	if err != nil {
		recordNetworkFailure(ctx, CacheFirst)
		recordUnavailable(ctx, CacheFirst)
		return Unavailable()
	}
	e.storeResponse(dynamic, key, resp)
	return resp
}

// staleWhileRevalidate returns a cached entry immediately and kicks
// off a detached revalidation whose only effect is a store update.
// On a miss it behaves like cacheFirst for this one call.
func (e *Executor) staleWhileRevalidate(ctx context.Context, req Request, class classify.ResourceClass) Response {
	key := req.Key()
	dynamic := e.partitionName(PartitionDynamic)

	entry, err := e.store.Get(dynamic, key)
	if err != nil {
		return e.cacheFirst(ctx, req, class)
	}
	recordHit(ctx, StaleWhileRevalidate)
	e.revalidate(req, class, dynamic)
	return fromEntry(entry)
}

// revalidate issues the detached network call for stale-while-
// revalidate. The caller has already returned; the result is only ever
// used to overwrite the store entry. Failures are logged at debug and
// discarded. Calls for the same key are deduplicated and the whole
// path is rate limited.
func (e *Executor) revalidate(req Request, class classify.ResourceClass, partitionName string) {
	if !e.limiter.Allow() {
		return
	}
	key := req.Key()

	go func() {
		_, _, _ = e.reval.Do(key.String(), func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.timeoutFor(class))
			defer cancel()

			resp, err := e.fetcher.Fetch(ctx, req)
			if err != nil {
				e.logger.Debug("revalidation failed", "key", key.String(), "error", err)
				return nil, nil
			}
			if resp.Status >= http.StatusBadRequest {
				e.logger.Debug("revalidation skipped", "key", key.String(), "status", resp.Status)
				return nil, nil
			}
			e.storeResponse(partitionName, key, resp)
			return nil, nil
		})
	}()
}

// fetch runs the network leg bounded by the per-class timeout.
// A timeout is indistinguishable from network failure to callers.
func (e *Executor) fetch(ctx context.Context, req Request, class classify.ResourceClass) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeoutFor(class))
	defer cancel()

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Debug("network leg failed", "url", req.URL, "error", err)
		return Response{}, errors.Join(ErrNetworkUnavailable, err)
	}
	resp.Source = SourceNetwork
	return resp, nil
}

func (e *Executor) timeoutFor(class classify.ResourceClass) time.Duration {
	if d, ok := e.cfg.Timeouts[class]; ok && d > 0 {
		return d
	}
	return e.cfg.DefaultTimeout
}

// storeResponse caches a network response. Best-effort: server errors
// are never cached and write failures stay inside the store/logs.
func (e *Executor) storeResponse(partitionName string, key partition.Key, resp Response) {
	if resp.Status >= http.StatusBadRequest {
		return
	}
	entry := partition.Entry{
		Status:   resp.Status,
		Headers:  resp.Headers,
		Body:     resp.Body,
		StoredAt: time.Now().UTC(),
	}
	_ = e.store.Put(partitionName, key, entry)
}

func fromEntry(entry partition.Entry) Response {
	headers := entry.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("X-Cache-Status", "hit")
	return Response{
		Status:  entry.Status,
		Headers: headers,
		Body:    entry.Body,
		Source:  SourceCache,
	}
}
