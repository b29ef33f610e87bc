// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package syncqueue implements the durable FIFO of tasks created while
// the application was offline.
//
// Tasks persist in the shared BadgerDB under their own key prefix and
// survive agent restarts. A drain processes tasks in creation order:
// a task is removed if and only if its replay reported success;
// failures are retained with their attempt count incremented, up to a
// configurable cap after which the task is dropped and reported as
// permanently failed rather than retried forever.
package syncqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	taskPrefix   = "q:"
	seqBandwidth = 64
)

// ErrTaskDropped marks a task that exceeded the retry cap. It is
// reported, never silently discarded.
var ErrTaskDropped = errors.New("sync task dropped after retry cap")

// Task is one pending replay action.
type Task struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// ReplayFunc attempts one task. A nil return is the only outcome that
// removes the task from the queue; partial success is not defined.
type ReplayFunc func(ctx context.Context, task Task) error

// Report summarizes one drain pass.
type Report struct {
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Dropped   []Task `json:"dropped,omitempty"`
}

// Config tunes retry policy.
type Config struct {
	// MaxAttempts caps replay attempts per task. Past the cap the task
	// is dropped and reported as permanently failed. Default: 5.
	MaxAttempts int

	// BackoffBase seeds the exponential drain backoff exposed through
	// NewDrainBackoff. Default: 500ms.
	BackoffBase time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BackoffBase: 500 * time.Millisecond,
	}
}

// Queue is the durable task queue.
//
// Thread Safety: safe for concurrent use. Drains are serialized so a
// task is never replayed twice concurrently.
type Queue struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	cfg    Config

	drainMu sync.Mutex
}

// New opens the queue over the shared database.
func New(db *badger.DB, cfg Config, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	seq, err := db.GetSequence([]byte("q-seq"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("open task sequence: %w", err)
	}
	return &Queue{db: db, seq: seq, logger: logger, cfg: cfg}, nil
}

// Close releases the sequence lease.
func (q *Queue) Close() error {
	return q.seq.Release()
}

func taskKey(seq uint64) []byte {
	key := make([]byte, len(taskPrefix)+8)
	copy(key, taskPrefix)
	binary.BigEndian.PutUint64(key[len(taskPrefix):], seq)
	return key
}

// Enqueue appends a task created by the application while offline.
func (q *Queue) Enqueue(payload json.RawMessage) (Task, error) {
	seq, err := q.seq.Next()
	if err != nil {
		return Task{}, fmt.Errorf("next task sequence: %w", err)
	}

	task := Task{
		ID:        uuid.New().String(),
		Seq:       seq,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.write(task); err != nil {
		return Task{}, err
	}
	q.logger.Debug("sync task enqueued", "task_id", task.ID, "seq", task.Seq)
	return task, nil
}

func (q *Queue) write(task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal sync task: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(task.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("write sync task: %w", err)
	}
	return nil
}

// Tasks returns pending tasks in creation order.
func (q *Queue) Tasks() ([]Task, error) {
	var tasks []Task
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(taskPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var task Task
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			})
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate sync tasks: %w", err)
	}
	return tasks, nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len() (int, error) {
	tasks, err := q.Tasks()
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// Drain processes all currently queued tasks in one pass.
//
// Description:
//
//	Tasks are replayed in creation order, one attempt each. Success
//	removes the task. Failure increments Attempts and records
//	LastError; once Attempts exceeds the configured cap the task is
//	dropped and listed in the report's Dropped set. The drain itself
//	never fails because of task failures; only storage errors abort it.
//
// Inputs:
//
//	ctx - Cancels the drain between tasks; the in-flight replay is
//	      bounded by its own handling inside the ReplayFunc.
//	replay - The replay action. Must not be nil.
//
// Outputs:
//
//	Report - Per-pass outcome counts and permanently failed tasks.
//	error - Storage failure or ctx cancellation.
//
// Thread Safety: concurrent Drain calls serialize; the second caller
// sees whatever tasks the first left behind.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	tasks, err := q.Tasks()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		if err := replay(ctx, task); err == nil {
			if derr := q.delete(task.Seq); derr != nil {
				return report, derr
			}
			report.Succeeded++
			q.logger.Debug("sync task replayed", "task_id", task.ID)
			continue
		} else {
			task.Attempts++
			task.LastError = err.Error()
			report.Failed++

			if task.Attempts > q.cfg.MaxAttempts {
				if derr := q.delete(task.Seq); derr != nil {
					return report, derr
				}
				report.Dropped = append(report.Dropped, task)
				q.logger.Error("sync task permanently failed",
					"task_id", task.ID,
					"attempts", task.Attempts,
					"last_error", task.LastError,
				)
				continue
			}
			if werr := q.write(task); werr != nil {
				return report, werr
			}
			q.logger.Warn("sync task failed, retained",
				"task_id", task.ID,
				"attempts", task.Attempts,
				"error", err,
			)
		}
	}

	if report.Succeeded > 0 {
		q.logger.Info("sync drain complete",
			"succeeded", report.Succeeded,
			"attempted", report.Attempted,
		)
	}
	return report, nil
}

func (q *Queue) delete(seq uint64) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(taskKey(seq))
	})
	if err != nil {
		return fmt.Errorf("delete sync task: %w", err)
	}
	return nil
}

// NewDrainBackoff builds the exponential backoff used to schedule
// follow-up drains while failed tasks remain. Callers reset it once a
// drain leaves the queue empty.
func (q *Queue) NewDrainBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffBase
	b.MaxInterval = 2 * time.Minute
	b.Reset()
	return b
}
