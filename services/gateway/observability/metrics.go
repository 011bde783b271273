// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics and the content-free
// stats aggregator behind the ops endpoints.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking;
// the aggregator synchronizes its own counters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "continuum"

// Metrics holds the Prometheus instruments of the gateway.
//
// # Fields
//
//   - RequestsTotal: analyze requests by status
//   - DecisionsTotal: decisions by decision_state and freq_type
//   - RequestDurationSeconds: analyze latency histogram
//   - RepairCallsTotal: repair executor outcomes (success, fallback)
//   - SafetyHitsTotal: safety boundary matches
//   - CacheEventsTotal: request cache hits and misses
//   - RateLimitedTotal: requests rejected by the rate limiter
//   - LicenseState: current guard state as a one-hot gauge
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	DecisionsTotal         *prometheus.CounterVec
	RequestDurationSeconds prometheus.Histogram
	RepairCallsTotal       *prometheus.CounterVec
	SafetyHitsTotal        prometheus.Counter
	CacheEventsTotal       *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter
	LicenseState           *prometheus.GaugeVec
}

// NewMetrics creates and registers all instruments on the given
// registerer. Tests pass a private registry; production passes
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "analyze_requests_total",
				Help:      "Total analyze requests by outcome status",
			},
			[]string{"status"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decisions_total",
				Help:      "Decisions by decision_state and freq_type",
			},
			[]string{"decision_state", "freq_type"},
		),
		RequestDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "analyze_duration_seconds",
				Help:      "Analyze request latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RepairCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "repair_calls_total",
				Help:      "Repair executor outcomes",
			},
			[]string{"outcome"},
		),
		SafetyHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "safety_hits_total",
				Help:      "Safety boundary detector matches",
			},
		),
		CacheEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_events_total",
				Help:      "Request cache hits and misses",
			},
			[]string{"result"},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-caller rate limiter",
			},
		),
		LicenseState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "license_state",
				Help:      "Current license guard state (one-hot)",
			},
			[]string{"state"},
		),
	}
}

// SetLicenseState flips the one-hot license gauge to the given state.
func (m *Metrics) SetLicenseState(state string) {
	for _, s := range []string{"UNINITIALIZED", "VALID", "EXPIRED", "QUOTA_EXCEEDED", "INVALID"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.LicenseState.WithLabelValues(s).Set(v)
	}
}
