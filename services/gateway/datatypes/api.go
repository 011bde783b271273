// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response bodies of the HTTP
// surface. Responses expose only content the caller already owns plus
// content-free decision fields.
package datatypes

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	// Text is the message to analyze. Required.
	Text string `json:"text" binding:"required"`

	// Scenario is an optional routing hint label.
	Scenario string `json:"scenario,omitempty"`
}

// AnalyzeResponse is the decision returned for one analyze call.
type AnalyzeResponse struct {
	// LogID identifies the evidence record for this decision; feedback
	// calls reference it.
	LogID string `json:"log_id"`

	DecisionState        string  `json:"decision_state"`
	FreqType             string  `json:"freq_type"`
	ConfidenceFinal      float64 `json:"confidence_final"`
	ConfidenceClassifier float64 `json:"confidence_classifier"`
	Scenario             string  `json:"scenario"`
	RepairedText         string  `json:"repaired_text"`
	RepairNote           *string `json:"repair_note"`

	// PrivacyGuardOK reports that the persisted evidence record passed
	// the content-free schema check.
	PrivacyGuardOK bool `json:"privacy_guard_ok"`

	// Cached is true when the decision was served from the request cache.
	Cached bool `json:"cached"`
}

// FeedbackRequest is the body of POST /api/v1/feedback. Ratings only;
// never message content.
type FeedbackRequest struct {
	// LogID references the evidence record of a prior analyze call.
	LogID string `json:"log_id" binding:"required,uuid"`

	// Accuracy rates how well the detected tone matched, 1 to 5.
	Accuracy int `json:"accuracy" binding:"required,min=1,max=5"`

	// Helpful rates how useful the guidance was, 1 to 5.
	Helpful int `json:"helpful" binding:"required,min=1,max=5"`

	// Accepted reports whether the caller used the repaired text.
	Accepted bool `json:"accepted"`
}

// FeedbackResponse acknowledges a recorded feedback event.
type FeedbackResponse struct {
	Status string `json:"status"`
	LogID  string `json:"log_id"`
}

// StatsResponse is the aggregate, content-free counter snapshot served
// by GET /api/v1/stats.
type StatsResponse struct {
	TotalAnalyses      int64            `json:"total_analyses"`
	FreqTypeCounts     map[string]int64 `json:"freq_type_counts"`
	DecisionCounts     map[string]int64 `json:"decision_counts"`
	AvgFinalConfidence float64          `json:"avg_final_confidence"`
}

// OpsMetricsResponse is the operability report of GET /api/v1/ops/metrics.
type OpsMetricsResponse struct {
	DecisionCounts    map[string]int64   `json:"decision_state_distribution"`
	LatencyMillis     LatencyPercentiles `json:"latency_ms"`
	RepairUsageRate   float64            `json:"repair_usage_rate"`
	OutOfScopeHitRate float64            `json:"out_of_scope_hit_rate"`
	CacheHitRate      float64            `json:"cache_hit_rate"`
}

// LatencyPercentiles summarizes observed analyze latency.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// RootResponse is the service banner of GET /.
type RootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`

	// Field names the offending request field on validation errors.
	Field string `json:"field,omitempty"`

	// LicenseState carries the guard state on license errors.
	LicenseState string `json:"license_state,omitempty"`
}
