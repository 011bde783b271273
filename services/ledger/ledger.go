// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger maintains content-free monthly usage counters and
// produces HMAC-signed summary artifacts for billing reconciliation.
//
// Counters are kept per month key (YYYY-MM). A month is finalized on
// rollover, at shutdown, or on a manual trigger; finalization writes
// <YYYY-MM>.summary.json plus <YYYY-MM>.summary.sig and is idempotent.
// A signed summary is never rewritten.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// monthKeyLayout is the time layout producing a YYYY-MM month key.
const monthKeyLayout = "2006-01"

// UsageSummary is the finalized, signed view of one month's counters.
// Immutable once signed; a correction requires a new summary, never an
// edit of an existing artifact.
type UsageSummary struct {
	Month         string `json:"month"`
	AnalysisCount int64  `json:"analysis_count"`
	FeedbackCount int64  `json:"feedback_count"`
	TotalEvents   int64  `json:"total_events"`
	ContentFree   bool   `json:"content_free"`
	FinalizedAt   string `json:"finalized_at"`
}

// FinalizeResult reports where a summary landed and its signature digest.
type FinalizeResult struct {
	Summary       UsageSummary `json:"summary"`
	SummaryPath   string       `json:"summary_path"`
	SignaturePath string       `json:"signature_path"`
	Digest        string       `json:"digest"`

	// Existing is true when the month had already been finalized and the
	// artifacts on disk were returned unchanged.
	Existing bool `json:"existing"`
}

// monthCounters holds the live counters for one month key.
type monthCounters struct {
	analysis int64
	feedback int64
}

// Config configures a Ledger.
type Config struct {
	// Dir is the directory receiving summary artifacts. Created on first
	// finalize if absent.
	Dir string

	// SigningKey signs summaries. Callers fall back to the baseline
	// secret when no dedicated key is configured; the ledger itself
	// requires a non-empty key.
	SigningKey []byte

	// Logger is optional.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Ledger is the shared usage counter store. All methods are safe for
// concurrent use; increments are serialized so no update is lost.
type Ledger struct {
	mu       sync.Mutex
	months   map[string]*monthCounters
	lifetime int64

	// finalizeMu serializes the existence check, counter snapshot, and
	// artifact write in Finalize. Without it, two concurrent Finalize
	// calls for one month could both miss the artifact and the loser
	// would overwrite the real summary with already-drained counters.
	finalizeMu sync.Mutex

	dir    string
	key    []byte
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger. The signing key must be non-empty.
func New(cfg Config) (*Ledger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("ledger: output directory is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("ledger: signing key is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{
		months: make(map[string]*monthCounters),
		dir:    cfg.Dir,
		key:    cfg.SigningKey,
		logger: logger,
		now:    now,
	}, nil
}

// RecordAnalysis counts one analyze event against the current month.
// A month rollover observed here finalizes the previous month before
// the new month's counter starts.
func (l *Ledger) RecordAnalysis() {
	l.record(func(c *monthCounters) {
		c.analysis++
	})
	l.mu.Lock()
	l.lifetime++
	l.mu.Unlock()
}

// RecordFeedback counts one feedback event against the current month.
func (l *Ledger) RecordFeedback() {
	l.record(func(c *monthCounters) {
		c.feedback++
	})
}

func (l *Ledger) record(inc func(*monthCounters)) {
	month := l.now().Format(monthKeyLayout)

	l.mu.Lock()
	stale := l.staleMonthsLocked(month)
	c, ok := l.months[month]
	if !ok {
		c = &monthCounters{}
		l.months[month] = c
	}
	inc(c)
	l.mu.Unlock()

	// Finalize closed months outside the counter lock.
	for _, m := range stale {
		if _, err := l.Finalize(m); err != nil {
			l.logger.Error("month rollover finalize failed",
				slog.String("month", m),
				slog.String("error", err.Error()))
		}
	}
}

// staleMonthsLocked lists tracked months other than current. Caller holds mu.
func (l *Ledger) staleMonthsLocked(current string) []string {
	var stale []string
	for m := range l.months {
		if m != current {
			stale = append(stale, m)
		}
	}
	return stale
}

// TotalAnalyses returns the lifetime analyze count across all months,
// including already-finalized ones. Feeds license quota enforcement.
func (l *Ledger) TotalAnalyses() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lifetime
}

// Counts returns the live counters for the current month.
func (l *Ledger) Counts() (analysis, feedback int64) {
	month := l.now().Format(monthKeyLayout)
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.months[month]; ok {
		return c.analysis, c.feedback
	}
	return 0, 0
}

// Finalize signs and persists the summary for the given month key. The
// call is idempotent: when the summary artifact already exists it is
// returned as-is after its signature is verified, and the live counters
// are untouched. Otherwise the month's counters are snapshotted, written,
// signed, and removed from the live set. A month with no recorded events
// finalizes to a zero-count summary, which reconciliation tooling needs
// for gap months.
func (l *Ledger) Finalize(month string) (*FinalizeResult, error) {
	if _, err := time.Parse(monthKeyLayout, month); err != nil {
		return nil, fmt.Errorf("ledger: invalid month key %q: %w", month, err)
	}

	l.finalizeMu.Lock()
	defer l.finalizeMu.Unlock()

	summaryPath, sigPath := l.artifactPaths(month)
	if _, err := os.Stat(summaryPath); err == nil {
		return l.loadExisting(month, summaryPath, sigPath)
	}

	l.mu.Lock()
	var analysis, feedback int64
	if c, ok := l.months[month]; ok {
		analysis = c.analysis
		feedback = c.feedback
		delete(l.months, month)
	}
	l.mu.Unlock()

	summary := UsageSummary{
		Month:         month,
		AnalysisCount: analysis,
		FeedbackCount: feedback,
		TotalEvents:   analysis + feedback,
		ContentFree:   true,
		FinalizedAt:   l.now().UTC().Format(time.RFC3339),
	}

	result, err := l.write(summary, summaryPath, sigPath)
	if err != nil {
		return nil, err
	}

	l.logger.Info("usage summary finalized",
		slog.String("month", month),
		slog.Int64("analysis_count", analysis),
		slog.Int64("feedback_count", feedback),
		slog.String("path", summaryPath))
	return result, nil
}

// FinalizeCurrent finalizes the month in progress. Called at shutdown.
func (l *Ledger) FinalizeCurrent() (*FinalizeResult, error) {
	return l.Finalize(l.now().Format(monthKeyLayout))
}
