// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package strategy

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for strategy execution.
var (
	tracer = otel.Tracer("edgeagent.strategy")
	meter  = otel.Meter("edgeagent.strategy")
)

// Metrics for strategy execution.
var (
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	networkFailures  metric.Int64Counter
	unavailableTotal metric.Int64Counter
	executeLatency   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"agent_cache_hits_total",
			metric.WithDescription("Total number of cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"agent_cache_misses_total",
			metric.WithDescription("Total number of cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		networkFailures, err = meter.Int64Counter(
			"agent_network_failures_total",
			metric.WithDescription("Total number of failed or timed-out network legs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unavailableTotal, err = meter.Int64Counter(
			"agent_unavailable_responses_total",
			metric.WithDescription("Total number of synthetic unavailable responses served"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		executeLatency, err = meter.Float64Histogram(
			"agent_strategy_latency_seconds",
			metric.WithDescription("Strategy execution latency in seconds"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func strategyAttrs(t Type) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("strategy", t.String()))
}

func recordHit(ctx context.Context, t Type) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1, strategyAttrs(t))
}

func recordMiss(ctx context.Context, t Type) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1, strategyAttrs(t))
}

func recordNetworkFailure(ctx context.Context, t Type) {
	if initMetrics() != nil {
		return
	}
	networkFailures.Add(ctx, 1, strategyAttrs(t))
}

func recordUnavailable(ctx context.Context, t Type) {
	if initMetrics() != nil {
		return
	}
	unavailableTotal.Add(ctx, 1, strategyAttrs(t))
}

func recordLatency(ctx context.Context, t Type, start time.Time) {
	if initMetrics() != nil {
		return
	}
	executeLatency.Record(ctx, time.Since(start).Seconds(), strategyAttrs(t))
}
