// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package partition implements the versioned cache partition store.
//
// Partitions are named key-value namespaces ("static", "dynamic",
// "api") addressed as {name}-{version}, persisted in the agent's
// embedded BadgerDB. At most one partition per logical name is current
// at a time; the manifest record tracks the current set. Superseded
// versions become garbage at activation and are removed by
// DeleteAllExcept, the only operation allowed to delete partitions.
//
// All writes go through this package so two invariants stay
// enforceable in one place:
//
//   - entry writes are atomic replace-or-insert, last-writer-wins
//   - activation cleanup is serialized against strategy reads, so an
//     in-flight read never observes a half-deleted partition
package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes inside the shared BadgerDB. The sync queue owns "q:".
const (
	entryPrefix = "p:"
	manifestKey = "partition-manifest"
)

var (
	// ErrCacheMiss is the normal-branch result for an absent entry.
	// It is never logged at error level.
	ErrCacheMiss = errors.New("cache miss")

	// ErrVersionConflict indicates an activation raced a newer
	// deployment. The caller defers; cleanup never runs partially.
	ErrVersionConflict = errors.New("partition manifest version conflict")
)

// Key is the normalized (method, url) request key. The request body
// never participates in the key.
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey normalizes method casing. URL case and query are preserved;
// classifier rules decide their significance upstream.
func NewKey(method, url string) Key {
	return Key{Method: strings.ToUpper(method), URL: url}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Entry is one cached response. Immutable once written; updates
// replace the whole entry under its key.
type Entry struct {
	Status   int         `json:"status"`
	Headers  http.Header `json:"headers"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Manifest records the currently addressable partition set.
type Manifest struct {
	Version string   `json:"version"`
	Names   []string `json:"names"`
}

// Name builds the on-disk partition name for a logical name and version.
func Name(logical, version string) string {
	return logical + "-" + version
}

// Store owns the partitions. All mutations persist immediately; there
// is no write-behind buffering.
//
// Thread Safety: safe for concurrent use. The partition mutex gives
// activation cleanup exclusive access relative to reads and writes.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// mu serializes ActivateVersion/DeleteAllExcept/DeleteAll against
	// entry reads and writes (read lock on the entry paths).
	mu sync.RWMutex
}

// NewStore creates a Store over an opened BadgerDB.
func NewStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func entryKey(partition string, key Key) []byte {
	// \x00 separators keep partition names and methods unambiguous.
	return []byte(entryPrefix + partition + "\x00" + key.Method + "\x00" + key.URL)
}

func partitionPrefix(partition string) []byte {
	return []byte(entryPrefix + partition + "\x00")
}

// Put stores an entry under its key, replacing any previous value
// wholesale. Last writer wins; there are no merge semantics.
//
// Storage failures are logged here. Callers serving a response treat
// the returned error as advisory: caching is best-effort relative to
// correctness of the response.
func (s *Store) Put(partition string, key Key, entry Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("cache entry marshal failed", "partition", partition, "key", key.String(), "error", err)
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(partition, key), data)
	})
	if err != nil {
		s.logger.Error("cache write failed", "partition", partition, "key", key.String(), "error", err)
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Get returns the entry for key, or ErrCacheMiss.
func (s *Store) Get(partition string, key Key) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(partition, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrCacheMiss
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return Entry{}, ErrCacheMiss
		}
		return Entry{}, fmt.Errorf("read cache entry: %w", err)
	}
	return entry, nil
}

// Delete removes one entry. Missing keys are not an error.
func (s *Store) Delete(partition string, key Key) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(partition, key))
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys enumerates the request keys of a partition. The snapshot is
// finite and not restartable; it is used for preload and invalidation
// sweeps, not steady-state serving.
func (s *Store) Keys(partition string) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := partitionPrefix(partition)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			parts := strings.SplitN(string(rest), "\x00", 2)
			if len(parts) != 2 {
				continue
			}
			keys = append(keys, Key{Method: parts[0], URL: parts[1]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate partition %s: %w", partition, err)
	}
	return keys, nil
}

// Names returns the distinct partition names currently holding entries.
func (s *Store) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namesLocked()
}

func (s *Store) namesLocked() ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			idx := strings.IndexByte(string(rest), 0)
			if idx < 0 {
				continue
			}
			name := string(rest[:idx])
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}
	return names, nil
}

// Manifest returns the recorded current partition set. A zero-value
// Manifest means no activation has completed yet.
func (s *Store) Manifest() (Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifestLocked()
}

func (s *Store) manifestLocked() (Manifest, error) {
	var m Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(manifestKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("read partition manifest: %w", err)
	}
	return m, nil
}

// ActivateVersion performs activation cleanup: it deletes every
// partition not in allowed and records the new manifest.
//
// Description:
//
//	Runs under the store's exclusive lock, so no entry read or write
//	can interleave with the deletion sweep. If the recorded manifest
//	belongs to a version that is neither expectPrev nor version, a
//	different deployment activated concurrently; ErrVersionConflict
//	is returned before anything is deleted.
//
//	The call is idempotent: re-activating the version that is already
//	current re-records the same manifest and deletes nothing.
//
// Inputs:
//
//	version - Version being activated.
//	allowed - Partition names that survive cleanup.
//	expectPrev - Version the caller believes is current ("" on first run).
//
// Outputs:
//
//	error - ErrVersionConflict on a lost race, storage errors otherwise.
//
// Thread Safety: safe for concurrent use; concurrent calls serialize.
func (s *Store) ActivateVersion(version string, allowed []string, expectPrev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.manifestLocked()
	if err != nil {
		return err
	}
	if current.Version != "" && current.Version != expectPrev && current.Version != version {
		return fmt.Errorf("%w: have %s, expected %s", ErrVersionConflict, current.Version, expectPrev)
	}

	if err := s.deleteAllExceptLocked(allowed); err != nil {
		return err
	}

	data, err := json.Marshal(Manifest{Version: version, Names: allowed})
	if err != nil {
		return fmt.Errorf("marshal partition manifest: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(manifestKey), data)
	})
	if err != nil {
		return fmt.Errorf("write partition manifest: %w", err)
	}
	return nil
}

// DeleteAllExcept removes every partition whose name is not in
// allowedNames. Exposed for diagnostics; activation goes through
// ActivateVersion so the manifest stays consistent.
func (s *Store) DeleteAllExcept(allowedNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAllExceptLocked(allowedNames)
}

func (s *Store) deleteAllExceptLocked(allowedNames []string) error {
	allowed := make(map[string]struct{}, len(allowedNames))
	for _, n := range allowedNames {
		allowed[n] = struct{}{}
	}

	names, err := s.namesLocked()
	if err != nil {
		return err
	}

	for _, name := range names {
		if _, ok := allowed[name]; ok {
			continue
		}
		if err := s.dropPartitionLocked(name); err != nil {
			return err
		}
		s.logger.Info("partition deleted", "partition", name)
	}
	return nil
}

// DeleteAll unconditionally removes every partition and the manifest.
// Diagnostics/support path (CLEAR_CACHE), not normal operation.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.namesLocked()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.dropPartitionLocked(name); err != nil {
			return err
		}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(manifestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete partition manifest: %w", err)
	}
	s.logger.Info("all partitions deleted", "count", len(names))
	return nil
}

// dropPartitionLocked deletes every key of one partition in batches,
// respecting badger's transaction size limit.
func (s *Store) dropPartitionLocked(name string) error {
	prefix := partitionPrefix(name)

	for {
		var batch [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				batch = append(batch, it.Item().KeyCopy(nil))
				if len(batch) >= 1000 {
					break
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan partition %s: %w", name, err)
		}
		if len(batch) == 0 {
			return nil
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			for _, k := range batch {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("drop partition %s: %w", name, err)
		}
	}
}
