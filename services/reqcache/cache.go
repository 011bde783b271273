// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reqcache deduplicates identical analyze requests.
//
// The cache maps a fingerprint of (normalized text, scenario) to the last
// computed decision plus its evidence record reference, with TTL
// eviction. Concurrent requests sharing a fingerprint are collapsed into
// a single pipeline execution via singleflight; an entry is committed
// only after a complete decision and evidence record exist, so a
// cancelled computation never leaves a half-written entry.
package reqcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rin-protocol/continuum/services/pipeline"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 24 * time.Hour

// DefaultSweepInterval is the default background eviction cadence.
const DefaultSweepInterval = 10 * time.Minute

// Value is the cached outcome of one pipeline execution: everything the
// analyze handler needs to answer a repeat request byte-identically.
type Value struct {
	Decision   pipeline.Decision
	FreqType   pipeline.FreqType
	Confidence pipeline.CalibratedConfidence
	EvidenceID string

	// PrivacyOK mirrors the schema_valid flag of the persisted evidence
	// record backing this decision.
	PrivacyOK bool
}

// ComputeFunc runs the pipeline for a cache miss. It must return a fully
// built Value: the cache commits only complete results.
type ComputeFunc func(ctx context.Context) (*Value, error)

type entry struct {
	value     *Value
	expiresAt time.Time
}

// Cache is the TTL + single-flight request cache.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The entry map is guarded by a
// RWMutex; in-flight computations are coordinated by a singleflight
// group, which guarantees exactly one execution per fingerprint at a
// time.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	lifecycle sync.Mutex
	done      chan struct{}
	running   bool
}

// Options configures the cache.
type Options struct {
	// TTL is the entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// SweepInterval is the background eviction cadence. Zero means
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Cache. logger may be nil.
func New(opts Options, logger *slog.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      opts.TTL,
		interval: opts.SweepInterval,
		now:      opts.Now,
		logger:   logger,
	}
}

// Fingerprint derives the cache key from the normalized text and
// scenario: a one-way SHA-256 digest, safe to persist in evidence
// records without revealing content.
func Fingerprint(normalizedText, scenario string) string {
	h := sha256.New()
	h.Write([]byte(normalizedText))
	h.Write([]byte{0})
	h.Write([]byte(scenario))
	return hex.EncodeToString(h.Sum(nil))
}

// Do returns the cached value for the fingerprint, or runs compute under
// the single-flight guarantee and commits the result. cached reports
// whether the value was served from an already committed entry.
func (c *Cache) Do(ctx context.Context, fingerprint string, compute ComputeFunc) (v *Value, cached bool, err error) {
	if v, ok := c.lookup(fingerprint); ok {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)

	result, err, _ := c.flight.Do(fingerprint, func() (any, error) {
		// Re-check under flight: a concurrent caller may have committed
		// between our lookup and the flight winning the key.
		if v, ok := c.lookup(fingerprint); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if v == nil || v.EvidenceID == "" {
			return nil, fmt.Errorf("reqcache: compute returned incomplete value")
		}
		c.commit(fingerprint, v)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.(*Value), false, nil
}

// lookup returns a live entry, evicting lazily when expired.
func (c *Cache) lookup(fingerprint string) (*Value, bool) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Entry may have been refreshed since the read lock dropped.
		if cur, ok := c.entries[fingerprint]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, fingerprint)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// commit stores a completed value. Called only with complete results.
func (c *Cache) commit(fingerprint string, v *Value) {
	c.mu.Lock()
	c.entries[fingerprint] = entry{value: v, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len returns the number of committed entries, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit/miss/eviction counters.
func (c *Cache) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// Start launches the background sweep. The sweep removes expired
// committed entries only; it never touches in-flight computations, which
// live in the singleflight group, not the entry map.
func (c *Cache) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.running {
		c.lifecycle.Unlock()
		return fmt.Errorf("cache sweep is already running")
	}
	c.running = true
	c.done = make(chan struct{})
	done := c.done
	c.lifecycle.Unlock()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
	return nil
}

// Stop halts the background sweep. Safe to call multiple times.
func (c *Cache) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.running {
		return
	}
	close(c.done)
	c.running = false
}

// sweep removes every expired entry in one pass.
func (c *Cache) sweep() {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		c.logger.Debug("cache sweep", "evicted", removed, "remaining", remaining)
	}
}
