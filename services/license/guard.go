// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// License Guard
// =============================================================================

// Status is the license guard state. Transitions are monotonic within a
// check cycle: only a recheck (periodic or file-change triggered) may
// move the guard between states.
//
//	UNINITIALIZED -> VALID -> {EXPIRED, QUOTA_EXCEEDED, INVALID}
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusValid         Status = "VALID"
	StatusExpired       Status = "EXPIRED"
	StatusQuotaExceeded Status = "QUOTA_EXCEEDED"
	StatusInvalid       Status = "INVALID"
)

// EnforcementMode is the license-violation response policy.
type EnforcementMode string

const (
	// ModeDegrade blocks only the analyze path; health and metrics
	// endpoints remain available.
	ModeDegrade EnforcementMode = "degrade"

	// ModeStop halts all analyze processing.
	ModeStop EnforcementMode = "stop"
)

// Snapshot is an immutable view of the guard state. In-flight requests
// read a consistent snapshot even while a background recheck replaces it.
type Snapshot struct {
	Status      Status
	LicenseID   string
	ExpiryDate  time.Time
	QuotaLimit  int64
	QuotaUsed   int64
	LastChecked time.Time
}

// Valid reports whether the analyze path is licensed.
func (s Snapshot) Valid() bool { return s.Status == StatusValid }

// Reason returns the lowercase enforcement outcome label used in the
// license-error scenario.
func (s Snapshot) Reason() string {
	switch s.Status {
	case StatusExpired:
		return "expired"
	case StatusQuotaExceeded:
		return "quota_exceeded"
	case StatusUninitialized:
		return "uninitialized"
	default:
		return "invalid"
	}
}

// Error is the structured license failure surfaced on analyze calls.
type Error struct {
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("license check failed: %s", e.Status)
}

// UsageFunc reports cumulative analyze usage for quota enforcement.
type UsageFunc func() int64

// Config configures the guard.
type Config struct {
	// Path is the license envelope file location. Required.
	Path string

	// Key is the customer license key. The guard seals it into a
	// memguard enclave and wipes the provided buffer.
	Key []byte

	// Mode is the enforcement policy. Default: ModeDegrade.
	Mode EnforcementMode

	// RecheckInterval is the periodic revalidation cadence.
	// Default: 5 minutes.
	RecheckInterval time.Duration

	// Usage reports cumulative analyze usage. Required for quota
	// enforcement; nil disables the quota check.
	Usage UsageFunc

	// Now overrides the clock, for tests. Default: time.Now.
	Now func() time.Time

	// OnChange is invoked with the new snapshot whenever a recheck
	// changes the published status. Optional; must not block.
	OnChange func(Snapshot)
}

// Guard owns the license lifecycle: load, validate, periodic recheck, and
// file-change triggered reload. The current state is published through an
// atomic pointer so request-path reads never contend with rechecks.
type Guard struct {
	path     string
	key      *memguard.Enclave
	mode     EnforcementMode
	interval time.Duration
	usage    UsageFunc
	now      func() time.Time
	logger   *slog.Logger
	onChange func(Snapshot)

	state atomic.Pointer[Snapshot]

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewGuard builds a guard. The initial state is UNINITIALIZED until the
// first Recheck. logger may be nil.
func NewGuard(cfg Config, logger *slog.Logger) (*Guard, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("license path is required")
	}
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("license key is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDegrade
	}
	if cfg.Mode != ModeDegrade && cfg.Mode != ModeStop {
		return nil, fmt.Errorf("unknown enforcement mode %q", cfg.Mode)
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		path: cfg.Path,
		// NewEnclave wipes cfg.Key after sealing.
		key:      memguard.NewEnclave(cfg.Key),
		mode:     cfg.Mode,
		interval: cfg.RecheckInterval,
		usage:    cfg.Usage,
		now:      cfg.Now,
		logger:   logger,
		onChange: cfg.OnChange,
	}
	initial := &Snapshot{Status: StatusUninitialized}
	g.state.Store(initial)
	return g, nil
}

// Mode returns the enforcement policy.
func (g *Guard) Mode() EnforcementMode { return g.mode }

// State returns the current snapshot. Never nil.
func (g *Guard) State() Snapshot { return *g.state.Load() }

// AnalyzeAllowed implements the pipeline's license gate: the analyze path
// runs only while the license is valid, in either enforcement mode.
func (g *Guard) AnalyzeAllowed() (bool, string) {
	s := g.State()
	if s.Valid() {
		return true, ""
	}
	return false, s.Reason()
}

// load reads the envelope file and opens it with the enclaved key.
func (g *Guard) load() (Payload, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return Payload{}, fmt.Errorf("read license file: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrEnvelopeFormat, err)
	}

	buf, err := g.key.Open()
	if err != nil {
		return Payload{}, fmt.Errorf("open license key enclave: %w", err)
	}
	defer buf.Destroy()

	return Open(env, buf.Bytes())
}

// Recheck re-runs load and validation, then atomically publishes the new
// snapshot. Safe for concurrent use, though in practice only the
// background loop and startup call it.
func (g *Guard) Recheck() Snapshot {
	now := g.now()
	snap := Snapshot{LastChecked: now}

	payload, err := g.load()
	if err != nil {
		snap.Status = StatusInvalid
		g.publish(snap, err)
		return snap
	}

	expiry, err := payload.Expiry()
	if err != nil {
		snap.Status = StatusInvalid
		g.publish(snap, err)
		return snap
	}

	snap.LicenseID = payload.LicenseID
	snap.ExpiryDate = expiry
	snap.QuotaLimit = payload.QuotaLimit
	if g.usage != nil {
		snap.QuotaUsed = g.usage()
	}

	switch {
	case now.After(expiry.AddDate(0, 0, 1)): // expiry is inclusive of its day
		snap.Status = StatusExpired
	case payload.QuotaLimit > 0 && snap.QuotaUsed >= payload.QuotaLimit:
		snap.Status = StatusQuotaExceeded
	default:
		snap.Status = StatusValid
	}
	g.publish(snap, nil)
	return snap
}

// publish swaps in the new snapshot and logs transitions.
func (g *Guard) publish(snap Snapshot, cause error) {
	prev := g.state.Load()
	g.state.Store(&snap)

	if prev.Status != snap.Status {
		attrs := []any{
			"from", string(prev.Status),
			"to", string(snap.Status),
			"mode", string(g.mode),
		}
		if cause != nil {
			attrs = append(attrs, "error", cause.Error())
		}
		g.logger.Info("license state transition", attrs...)
		if g.onChange != nil {
			g.onChange(snap)
		}
	}
}

// Start performs the initial recheck and launches the background loop:
// a periodic ticker plus an fsnotify watcher on the license file, so a
// replaced license takes effect without waiting a full interval. The loop
// never blocks request handling.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("license guard is already running")
	}
	g.running = true
	g.done = make(chan struct{})
	done := g.done
	g.mu.Unlock()

	g.Recheck()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(g.path); werr != nil {
			// Watch failures degrade to interval-only rechecks.
			g.logger.Warn("license file watch unavailable", "error", werr.Error())
			watcher.Close()
			watcher = nil
		}
	} else {
		g.logger.Warn("fsnotify init failed", "error", err.Error())
		watcher = nil
	}

	go g.loop(ctx, done, watcher)
	return nil
}

func (g *Guard) loop(ctx context.Context, done chan struct{}, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	if watcher != nil {
		defer watcher.Close()
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			g.Recheck()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				g.logger.Info("license file changed, rechecking")
				g.Recheck()
			}
		}
	}
}

// Stop halts the background loop. Safe to call multiple times.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	close(g.done)
	g.running = false
}
