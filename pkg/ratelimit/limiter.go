// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit provides an in-process sliding-window request limiter
// keyed by caller identity. Excess requests are rejected deterministically
// before they enter the pipeline.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultPruneInterval is how often the background prune runs when
// Start is called.
const DefaultPruneInterval = 5 * time.Minute

// Decision is the outcome of one limiter check.
type Decision struct {
	// Allowed reports whether the request fits the caller's budget.
	Allowed bool

	// Remaining is the budget left in the current window after this
	// request. Zero when denied.
	Remaining int

	// RetryAfter is how long the caller must wait before the oldest
	// counted request slides out of the window. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter enforces a fixed requests-per-window budget per caller using a
// true sliding window: each request is timestamped and requests older
// than the window stop counting individually, so the budget refills
// gradually rather than all at once.
//
// Thread Safety: safe for concurrent use.
type Limiter struct {
	limit   int
	window  time.Duration
	callers sync.Map // caller → *callerWindow
	now     func() time.Time

	lifecycle sync.Mutex
	running   bool
	done      chan struct{}
}

// callerWindow holds one caller's request timestamps, oldest first.
type callerWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// New creates a Limiter allowing `limit` requests per `window` per caller.
func New(limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 {
		return nil, errors.New("ratelimit: limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	return &Limiter{limit: limit, window: window, now: time.Now}, nil
}

// Allow records and checks one request for the caller. Denied requests
// are not counted against the budget.
func (l *Limiter) Allow(caller string) Decision {
	w := l.getOrCreate(caller)
	now := l.now()
	cutoff := now.Add(-l.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Drop timestamps that slid out of the window.
	idx := 0
	for idx < len(w.times) && !w.times[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.times = append(w.times[:0], w.times[idx:]...)
	}

	if len(w.times) >= l.limit {
		retry := w.times[0].Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	w.times = append(w.times, now)
	return Decision{Allowed: true, Remaining: l.limit - len(w.times)}
}

// Start launches the background prune loop, bounding memory for
// churning caller populations. The loop stops on ctx cancellation or
// Stop.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	l.lifecycle.Lock()
	if l.running {
		l.lifecycle.Unlock()
		return errors.New("ratelimit: prune loop is already running")
	}
	l.running = true
	l.done = make(chan struct{})
	done := l.done
	l.lifecycle.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
	return nil
}

// Stop halts the background prune loop. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if !l.running {
		return
	}
	close(l.done)
	l.running = false
}

// Prune drops callers with no requests inside the window. Run
// periodically by the Start loop.
func (l *Limiter) Prune() {
	cutoff := l.now().Add(-l.window)
	l.callers.Range(func(key, value any) bool {
		w := value.(*callerWindow)
		w.mu.Lock()
		idle := len(w.times) == 0 || !w.times[len(w.times)-1].After(cutoff)
		w.mu.Unlock()
		if idle {
			l.callers.Delete(key)
		}
		return true
	})
}

func (l *Limiter) getOrCreate(caller string) *callerWindow {
	if v, ok := l.callers.Load(caller); ok {
		return v.(*callerWindow)
	}
	actual, _ := l.callers.LoadOrStore(caller, &callerWindow{})
	return actual.(*callerWindow)
}
