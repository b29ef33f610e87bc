// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/chartflow/edgeagent/services/agent/storage/badger"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := New(db, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueOrder(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())

	for _, p := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(json.RawMessage(`"` + p + `"`))
		require.NoError(t, err)
	}

	tasks, err := q.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, json.RawMessage(`"a"`), tasks[0].Payload)
	assert.Equal(t, json.RawMessage(`"b"`), tasks[1].Payload)
	assert.Equal(t, json.RawMessage(`"c"`), tasks[2].Payload)
	assert.NotEmpty(t, tasks[0].ID)
	assert.Zero(t, tasks[0].Attempts)
}

// TestDrainSuccessRemoves: a successfully replayed task leaves the
// queue; the report counts it.
func TestDrainSuccessRemoves(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	_, err := q.Enqueue(json.RawMessage(`{"action":"place-order"}`))
	require.NoError(t, err)

	report, err := q.Drain(context.Background(), func(ctx context.Context, task Task) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Failed)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestDrainFailureRetains: a failed task is retained with Attempts
// incremented by exactly 1 per drain cycle and LastError recorded.
func TestDrainFailureRetains(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	_, err := q.Enqueue(json.RawMessage(`{}`))
	require.NoError(t, err)

	fail := func(ctx context.Context, task Task) error {
		return errors.New("replay refused")
	}

	for drain := 1; drain <= 3; drain++ {
		report, err := q.Drain(context.Background(), fail)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)

		tasks, err := q.Tasks()
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, drain, tasks[0].Attempts)
		assert.Equal(t, "replay refused", tasks[0].LastError)
	}
}

// TestDrainDropsPastCap: once Attempts exceeds the cap the task is
// removed and reported as permanently failed, not retried forever.
func TestDrainDropsPastCap(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BackoffBase: time.Millisecond}
	q := newTestQueue(t, cfg)
	task, err := q.Enqueue(json.RawMessage(`{}`))
	require.NoError(t, err)

	fail := func(ctx context.Context, task Task) error {
		return errors.New("still broken")
	}

	// Drains 1 and 2 retain; drain 3 pushes Attempts past the cap.
	for i := 0; i < 2; i++ {
		report, err := q.Drain(context.Background(), fail)
		require.NoError(t, err)
		assert.Empty(t, report.Dropped)
	}

	report, err := q.Drain(context.Background(), fail)
	require.NoError(t, err)
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, task.ID, report.Dropped[0].ID)
	assert.Equal(t, 3, report.Dropped[0].Attempts)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainMixedOutcomes(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	_, err := q.Enqueue(json.RawMessage(`"ok"`))
	require.NoError(t, err)
	_, err = q.Enqueue(json.RawMessage(`"bad"`))
	require.NoError(t, err)
	_, err = q.Enqueue(json.RawMessage(`"ok"`))
	require.NoError(t, err)

	report, err := q.Drain(context.Background(), func(ctx context.Context, task Task) error {
		if string(task.Payload) == `"bad"` {
			return errors.New("rejected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	tasks, err := q.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, json.RawMessage(`"bad"`), tasks[0].Payload)
}

// TestDrainOrder verifies replay happens in creation order.
func TestDrainOrder(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	for _, p := range []string{"1", "2", "3", "4"} {
		_, err := q.Enqueue(json.RawMessage(p))
		require.NoError(t, err)
	}

	var order []string
	_, err := q.Drain(context.Background(), func(ctx context.Context, task Task) error {
		order = append(order, string(task.Payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, order)
}

func TestDrainCancellation(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var replayed int
	_, err := q.Drain(ctx, func(ctx context.Context, task Task) error {
		replayed++
		cancel() // cancel after the first replay
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, replayed)

	// Remaining tasks are untouched for the next drain.
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentDrainsSerialize(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	total := 0
	drain := func() {
		report, err := q.Drain(context.Background(), func(ctx context.Context, task Task) error {
			return nil
		})
		require.NoError(t, err)
		mu.Lock()
		total += report.Succeeded
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); drain() }()
	go func() { defer wg.Done(); drain() }()
	wg.Wait()

	// Each task replayed exactly once across both drains.
	assert.Equal(t, 10, total)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := storage.DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	db, err := storage.Open(cfg)
	require.NoError(t, err)

	q, err := New(db, DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = q.Enqueue(json.RawMessage(`"survives"`))
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, db.Close())

	db2, err := storage.Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	q2, err := New(db2, DefaultConfig(), nil)
	require.NoError(t, err)
	defer q2.Close()

	tasks, err := q2.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, json.RawMessage(`"survives"`), tasks[0].Payload)
}

func TestNewDrainBackoff(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BackoffBase: 100 * time.Millisecond}
	q := newTestQueue(t, cfg)

	b := q.NewDrainBackoff()
	first := b.NextBackOff()
	second := b.NextBackOff()

	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.Greater(t, second, first/2) // jittered exponential growth
}
