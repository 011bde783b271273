// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rin-protocol/continuum/pkg/ratelimit"
	"github.com/rin-protocol/continuum/services/evidence"
	"github.com/rin-protocol/continuum/services/gateway/datatypes"
	"github.com/rin-protocol/continuum/services/gateway/handlers"
	"github.com/rin-protocol/continuum/services/gateway/observability"
	"github.com/rin-protocol/continuum/services/gateway/routes"
	"github.com/rin-protocol/continuum/services/ledger"
	"github.com/rin-protocol/continuum/services/license"
	"github.com/rin-protocol/continuum/services/pipeline"
	"github.com/rin-protocol/continuum/services/reqcache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testLicenseKey = "handler-test-license-key"

// writeLicense seals an envelope to disk and returns its path.
func writeLicense(t *testing.T, payload license.Payload) string {
	t.Helper()
	env, err := license.Seal(payload, []byte(testLicenseKey))
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "license.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func validGuard(t *testing.T, mode license.EnforcementMode, usage license.UsageFunc) *license.Guard {
	t.Helper()
	path := writeLicense(t, license.Payload{
		LicenseID:  "lic-test",
		ExpiryDate: time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
		QuotaLimit: 1000,
	})
	g, err := license.NewGuard(license.Config{
		Path:  path,
		Key:   []byte(testLicenseKey),
		Mode:  mode,
		Usage: usage,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	g.Recheck()
	return g
}

func expiredGuard(t *testing.T, mode license.EnforcementMode) *license.Guard {
	t.Helper()
	path := writeLicense(t, license.Payload{
		LicenseID:  "lic-expired",
		ExpiryDate: "2020-01-01",
		QuotaLimit: 1000,
	})
	g, err := license.NewGuard(license.Config{
		Path: path,
		Key:  []byte(testLicenseKey),
		Mode: mode,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	g.Recheck()
	return g
}

type testEnv struct {
	router *gin.Engine
	deps   handlers.Deps
}

// newTestEnv wires the full handler stack with in-memory components and
// the local fallback executor only.
func newTestEnv(t *testing.T, guard *license.Guard, ratePerMinute int) *testEnv {
	t.Helper()
	var gate pipeline.LicenseGate
	if guard != nil {
		gate = guard
	}
	return buildTestEnv(t, guard, gate, ratePerMinute)
}

// newTestEnvWithGate wires the stack with a pipeline gate independent of
// Deps.Guard, modeling a guard whose state moves while a request is in
// flight.
func newTestEnvWithGate(t *testing.T, gate pipeline.LicenseGate, ratePerMinute int) *testEnv {
	t.Helper()
	return buildTestEnv(t, nil, gate, ratePerMinute)
}

func buildTestEnv(t *testing.T, guard *license.Guard, gate pipeline.LicenseGate, ratePerMinute int) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := evidence.OpenStore(evidence.InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	usage, err := ledger.New(ledger.Config{
		Dir:        t.TempDir(),
		SigningKey: []byte("test-signing-key"),
	})
	require.NoError(t, err)

	pipe, err := pipeline.New(pipeline.Options{}, nil, gate, logger)
	require.NoError(t, err)

	limiter, err := ratelimit.New(ratePerMinute, time.Minute)
	require.NoError(t, err)

	deps := handlers.Deps{
		Pipeline: pipe,
		Cache:    reqcache.New(reqcache.Options{}, logger),
		Evidence: store,
		Ledger:   usage,
		Guard:    guard,
		Stats:    observability.NewAggregator(),
		Metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		Logger:   logger,
		Version:  "test",
	}

	router := gin.New()
	routes.SetupRoutes(router, deps, limiter)
	return &testEnv{router: router, deps: deps}
}

func (e *testEnv) analyze(t *testing.T, text string) (*httptest.ResponseRecorder, datatypes.AnalyzeResponse) {
	t.Helper()
	body, err := json.Marshal(datatypes.AnalyzeRequest{Text: text})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)

	var resp datatypes.AnalyzeResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// =============================================================================
// Analyze
// =============================================================================

func TestAnalyze_NeutralInputAllows(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w, resp := env.analyze(t, "The meeting is at 3pm")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "ALLOW", resp.DecisionState)
	assert.Equal(t, "Neutral", resp.FreqType)
	assert.Equal(t, "The meeting is at 3pm", resp.RepairedText)
	assert.Less(t, resp.ConfidenceFinal, 0.45)
	assert.True(t, resp.PrivacyGuardOK)
	assert.NotEmpty(t, resp.LogID)
	assert.False(t, resp.Cached)
}

func TestAnalyze_CrisisInputBlocks(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w, resp := env.analyze(t, "I can't go on, nothing matters anymore")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "BLOCK", resp.DecisionState)
	assert.Equal(t, "OutOfScope", resp.FreqType)
	assert.Equal(t, "crisis_out_of_scope", resp.Scenario)
	assert.Empty(t, resp.RepairedText)
}

func TestAnalyze_SharpInputRepairs(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w, resp := env.analyze(t, "Do it now. This is UNACCEPTABLE!!! You need to fix it immediately.")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "GUIDE", resp.DecisionState)
	assert.Equal(t, "Sharp", resp.FreqType)
	assert.NotEqual(t, "Do it now. This is UNACCEPTABLE!!! You need to fix it immediately.", resp.RepairedText)
	require.NotNil(t, resp.RepairNote)
}

func TestAnalyze_EmptyTextRejected(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w, _ := env.analyze(t, "   ")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "text", errResp.Field)
}

func TestAnalyze_MissingBodyRejected(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/analyze", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_RepeatRequestServedFromCache(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	_, first := env.analyze(t, "The meeting is at 3pm")
	_, second := env.analyze(t, "The meeting is at 3pm")

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.LogID, second.LogID)
	assert.Equal(t, first.DecisionState, second.DecisionState)
	assert.Equal(t, first.RepairedText, second.RepairedText)

	// One pipeline execution, one evidence record.
	n, err := env.deps.Evidence.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAnalyze_EchoUsesCanonicalForm(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	_, first := env.analyze(t, "The  meeting   is at 3pm")
	assert.Equal(t, "The meeting is at 3pm", first.RepairedText)

	// A differently spaced rendering of the same logical text shares the
	// cache entry, so the echoed text has to be the canonical form both
	// callers map to.
	_, second := env.analyze(t, "The meeting is at 3pm")
	assert.True(t, second.Cached)
	assert.Equal(t, first.LogID, second.LogID)
	assert.Equal(t, first.RepairedText, second.RepairedText)
}

func TestAnalyze_ConcurrentIdenticalRequests(t *testing.T) {
	env := newTestEnv(t, nil, 1000)

	const workers = 8
	responses := make([]datatypes.AnalyzeResponse, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, responses[i] = env.analyze(t, "I expect this done ASAP, no excuses, the deadline is tonight")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, responses[0].LogID, responses[i].LogID)
		assert.Equal(t, responses[0].DecisionState, responses[i].DecisionState)
		assert.Equal(t, responses[0].RepairedText, responses[i].RepairedText)
	}

	n, err := env.deps.Evidence.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// License enforcement
// =============================================================================

func TestAnalyze_ValidLicensePasses(t *testing.T) {
	env := newTestEnv(t, validGuard(t, license.ModeDegrade, nil), 100)

	w, resp := env.analyze(t, "The meeting is at 3pm")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ALLOW", resp.DecisionState)
}

func TestAnalyze_ExpiredLicenseDegradeMode(t *testing.T) {
	env := newTestEnv(t, expiredGuard(t, license.ModeDegrade), 100)

	w, _ := env.analyze(t, "The meeting is at 3pm")
	assert.Equal(t, http.StatusForbidden, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "EXPIRED", errResp.LicenseState)

	// Health stays available.
	hw := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	env.router.ServeHTTP(hw, req)
	assert.Equal(t, http.StatusOK, hw.Code)
}

func TestAnalyze_ExpiredLicenseStopMode(t *testing.T) {
	env := newTestEnv(t, expiredGuard(t, license.ModeStop), 100)

	w, _ := env.analyze(t, "The meeting is at 3pm")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// toggleGate is a mutable pipeline license gate.
type toggleGate struct {
	mu      sync.Mutex
	allowed bool
	reason  string
}

func (g *toggleGate) AnalyzeAllowed() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.allowed {
		return true, ""
	}
	return false, g.reason
}

func (g *toggleGate) set(allowed bool) {
	g.mu.Lock()
	g.allowed = allowed
	g.mu.Unlock()
}

func TestAnalyze_LicenseLapseDuringComputeNotCached(t *testing.T) {
	// The gate reports expired while the handler-level guard check has
	// already passed, the interleaving a background recheck produces
	// mid-request. The outcome must be the structured license error and
	// must never be committed to the cache or the evidence store.
	gate := &toggleGate{reason: "expired"}
	env := newTestEnvWithGate(t, gate, 100)

	w, _ := env.analyze(t, "The meeting is at 3pm")
	assert.Equal(t, http.StatusForbidden, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "EXPIRED", errResp.LicenseState)

	n, err := env.deps.Evidence.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Once the license recovers, the identical request runs fresh.
	gate.set(true)
	w2, resp := env.analyze(t, "The meeting is at 3pm")
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "ALLOW", resp.DecisionState)
	assert.False(t, resp.Cached)
}

func TestAnalyze_CrisisOverridesInvalidLicense(t *testing.T) {
	env := newTestEnv(t, expiredGuard(t, license.ModeStop), 100)

	w, resp := env.analyze(t, "I can't go on, nothing matters anymore")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BLOCK", resp.DecisionState)
	assert.Equal(t, "crisis_out_of_scope", resp.Scenario)
}

// =============================================================================
// Feedback
// =============================================================================

func TestFeedback_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	_, analyzed := env.analyze(t, "The meeting is at 3pm")
	require.NotEmpty(t, analyzed.LogID)

	body, _ := json.Marshal(datatypes.FeedbackRequest{
		LogID:    analyzed.LogID,
		Accuracy: 5,
		Helpful:  4,
		Accepted: true,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.FeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "recorded", resp.Status)

	_, feedback := env.deps.Ledger.Counts()
	assert.Equal(t, int64(1), feedback)
}

func TestFeedback_UnknownLogID(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	body, _ := json.Marshal(datatypes.FeedbackRequest{
		LogID:    "6f1e1c1a-9d8e-4f4b-8a4f-2f2b6f6d5c4e",
		Accuracy: 3,
		Helpful:  3,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedback_RatingOutOfRange(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	body := []byte(`{"log_id":"6f1e1c1a-9d8e-4f4b-8a4f-2f2b6f6d5c4e","accuracy":9,"helpful":1}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Stats, ops, billing
// =============================================================================

func TestStats_AfterTraffic(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	env.analyze(t, "The meeting is at 3pm")
	env.analyze(t, "I can't go on, nothing matters anymore")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/stats", nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.TotalAnalyses)
	assert.Equal(t, int64(1), resp.FreqTypeCounts["Neutral"])
	assert.Equal(t, int64(1), resp.FreqTypeCounts["OutOfScope"])
	assert.Equal(t, int64(1), resp.DecisionCounts["ALLOW"])
	assert.Equal(t, int64(1), resp.DecisionCounts["BLOCK"])
}

func TestOpsMetrics_Shape(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	env.analyze(t, "I can't go on, nothing matters anymore")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/ops/metrics", nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.OpsMetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.DecisionCounts["BLOCK"])
	assert.Equal(t, 1.0, resp.OutOfScopeHitRate)
	assert.GreaterOrEqual(t, resp.LatencyMillis.P95, resp.LatencyMillis.P50)
}

func TestUsageSummary_Endpoint(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	env.analyze(t, "The meeting is at 3pm")
	env.analyze(t, "Totally different text about the weather")

	month := time.Now().UTC().Format("2006-01")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/billing/usage-summary?month="+month, nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result ledger.FinalizeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(2), result.Summary.AnalysisCount)
	assert.NotEmpty(t, result.Digest)
	assert.FileExists(t, result.SummaryPath)
	assert.FileExists(t, result.SignaturePath)
}

func TestUsageSummary_BadMonth(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/billing/usage-summary?month=June", nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Misc surface
// =============================================================================

func TestHealth_AlwaysOK(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRoot_Banner(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.RootResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "continuum", resp.Service)
}

func TestRateLimit_Enforced(t *testing.T) {
	env := newTestEnv(t, nil, 2)

	_, _ = env.analyze(t, "The meeting is at 3pm")
	_, _ = env.analyze(t, "The meeting is at 3pm")

	w, _ := env.analyze(t, "The meeting is at 3pm")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestID_Echoed(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
}
