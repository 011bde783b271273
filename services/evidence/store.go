// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces evidence rows inside the shared database.
const keyPrefix = "ev/"

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("evidence: record not found")

// StoreConfig holds configuration for the embedded evidence store.
type StoreConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode with no disk persistence.
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Retention is the time-to-live applied to each record. Zero keeps
	// records forever.
	Retention time.Duration

	// Logger receives BadgerDB's internal log output. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults: durable writes and a
// 90-day retention window.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SyncWrites: true,
		Retention:  90 * 24 * time.Hour,
	}
}

// InMemoryStoreConfig returns a configuration for testing: in-memory,
// async writes, unlimited retention.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the append-only evidence record store backed by BadgerDB.
// Records are written once and never updated; deletion happens only via
// the configured retention TTL.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

// OpenStore opens the evidence store with the given configuration,
// creating the database directory if needed.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("evidence: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("evidence: create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("evidence: open store: %w", err)
	}

	return &Store{db: db, retention: cfg.Retention}, nil
}

// Append persists one record under its record_id. A record that failed
// schema validation is persisted exactly the same way; the schema_valid
// flag travels with the row. Records lacking a record_id are rejected
// since they could never be retrieved.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("evidence: context cancelled: %w", err)
	}
	id := RecordID(rec)
	if id == "" {
		return errors.New("evidence: record has no record_id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("evidence: marshal record %s: %w", id, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+id), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Get retrieves a record by id. Returns ErrNotFound when no row exists
// or its retention TTL has elapsed.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evidence: context cancelled: %w", err)
	}

	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Count returns the number of live evidence rows. Key-only iteration, no
// value fetches.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("evidence: context cancelled: %w", err)
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the underlying database. Safe to call once; the store is
// unusable afterward.
func (s *Store) Close() error {
	return s.db.Close()
}
