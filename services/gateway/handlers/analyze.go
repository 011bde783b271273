// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rin-protocol/continuum/services/evidence"
	"github.com/rin-protocol/continuum/services/gateway/datatypes"
	"github.com/rin-protocol/continuum/services/gateway/observability"
	"github.com/rin-protocol/continuum/services/license"
	"github.com/rin-protocol/continuum/services/pipeline"
	"github.com/rin-protocol/continuum/services/reqcache"
)

// HandleAnalyze runs the decision pipeline for one text. Identical
// (text, scenario) pairs inside the cache TTL return byte-identical
// decisions; concurrent identical requests share one execution.
func HandleAnalyze(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			d.Metrics.RequestsTotal.WithLabelValues("validation_error").Inc()
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "invalid request body",
				Field: "text",
			})
			return
		}
		scenario := req.Scenario
		if scenario == "" {
			scenario = pipeline.ScenarioGeneral
		}

		norm, err := d.Pipeline.Normalize(req.Text)
		if err != nil {
			d.Metrics.RequestsTotal.WithLabelValues("validation_error").Inc()
			var ve *pipeline.ValidationError
			if errors.As(err, &ve) {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error: ve.Reason,
					Field: ve.Field,
				})
				return
			}
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		// An invalid license blocks the analyze path, but the safety
		// boundary still wins: a crisis text gets its BLOCK decision
		// regardless of license state. License-blocked outcomes bypass
		// the cache so a later valid license is never shadowed by a
		// cached license error.
		if d.Guard != nil {
			if snap := d.Guard.State(); !snap.Valid() {
				res, perr := d.Pipeline.Process(c.Request.Context(), req.Text, scenario)
				if perr == nil && res.SafetyHit {
					v, aerr := d.persistDecision(c, reqcache.Fingerprint(norm.Text, scenario), res)
					if aerr != nil {
						d.internalError(c, "evidence append failed", aerr)
						return
					}
					d.respondDecision(c, v, false, start)
					return
				}

				d.Metrics.RequestsTotal.WithLabelValues("license_error").Inc()
				status := http.StatusForbidden
				if d.Guard.Mode() == license.ModeStop {
					status = http.StatusServiceUnavailable
				}
				c.JSON(status, datatypes.ErrorResponse{
					Error:        "license check failed: " + snap.Reason(),
					LicenseState: string(snap.Status),
				})
				return
			}
		}

		fp := reqcache.Fingerprint(norm.Text, scenario)
		v, cached, err := d.Cache.Do(c.Request.Context(), fp, func(ctx context.Context) (*reqcache.Value, error) {
			res, perr := d.Pipeline.Process(ctx, req.Text, scenario)
			if perr != nil {
				return nil, perr
			}
			// The router consults the license gate after the handler's
			// pre-check; a background recheck can flip the license
			// between the two reads. Surface that as the structured
			// license error instead of committing a license_error
			// decision to the cache.
			if strings.HasPrefix(res.Decision.Scenario, pipeline.ScenarioLicenseError) {
				reason := strings.TrimPrefix(
					strings.TrimPrefix(res.Decision.Scenario, pipeline.ScenarioLicenseError), ":")
				return nil, &licenseBlockedError{reason: reason}
			}
			return d.persistDecision(c, fp, res)
		})
		if err != nil {
			var lbe *licenseBlockedError
			if errors.As(err, &lbe) {
				d.respondLicenseBlocked(c, lbe.reason)
				return
			}
			d.internalError(c, "analyze execution failed", err)
			return
		}

		d.respondDecision(c, v, cached, start)
	}
}

// licenseBlockedError marks a decision the router refused on license
// grounds mid-flight. It never reaches the cache or the evidence store.
type licenseBlockedError struct {
	reason string
}

func (e *licenseBlockedError) Error() string {
	return "license blocked: " + e.reason
}

// respondLicenseBlocked writes the structured license error. The reason
// comes from the router's gate read, not the guard snapshot, so the
// response reflects the state that actually blocked this request.
func (d Deps) respondLicenseBlocked(c *gin.Context, reason string) {
	d.Metrics.RequestsTotal.WithLabelValues("license_error").Inc()
	status := http.StatusForbidden
	if d.Guard != nil && d.Guard.Mode() == license.ModeStop {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, datatypes.ErrorResponse{
		Error:        "license check failed: " + reason,
		LicenseState: strings.ToUpper(reason),
	})
}

// persistDecision builds and appends the evidence record for a pipeline
// result, returning the cacheable value.
func (d Deps) persistDecision(c *gin.Context, fingerprint string, res *pipeline.Result) (*reqcache.Value, error) {
	rec := evidence.Build(evidence.BuildInput{
		Fingerprint:    fingerprint,
		Result:         res,
		ServiceVersion: d.Version,
	})
	if err := d.Evidence.Append(c.Request.Context(), rec); err != nil {
		return nil, err
	}
	schemaValid, _ := rec["schema_valid"].(bool)
	return &reqcache.Value{
		Decision:   res.Decision,
		FreqType:   res.Class.FreqType,
		Confidence: res.Confidence,
		EvidenceID: evidence.RecordID(rec),
		PrivacyOK:  schemaValid,
	}, nil
}

// respondDecision records bookkeeping and writes the decision response.
func (d Deps) respondDecision(c *gin.Context, v *reqcache.Value, cached bool, start time.Time) {
	d.Ledger.RecordAnalysis()

	safetyHit := v.FreqType == pipeline.FreqOutOfScope
	repairUsed := v.Decision.Mode == pipeline.ModeRepair

	d.Metrics.RequestsTotal.WithLabelValues("success").Inc()
	d.Metrics.DecisionsTotal.WithLabelValues(string(v.Decision.State), string(v.FreqType)).Inc()
	d.Metrics.RequestDurationSeconds.Observe(time.Since(start).Seconds())
	if safetyHit {
		d.Metrics.SafetyHitsTotal.Inc()
	}
	if repairUsed {
		d.Metrics.RepairCallsTotal.WithLabelValues("repair").Inc()
	}
	if cached {
		d.Metrics.CacheEventsTotal.WithLabelValues("hit").Inc()
	} else {
		d.Metrics.CacheEventsTotal.WithLabelValues("miss").Inc()
	}

	d.Stats.Observe(observability.Observation{
		FreqType:      string(v.FreqType),
		DecisionState: string(v.Decision.State),
		Final:         v.Confidence.Final,
		Latency:       time.Since(start),
		SafetyHit:     safetyHit,
		RepairUsed:    repairUsed,
		CacheHit:      cached,
	})

	c.JSON(http.StatusOK, datatypes.AnalyzeResponse{
		LogID:                v.EvidenceID,
		DecisionState:        string(v.Decision.State),
		FreqType:             string(v.FreqType),
		ConfidenceFinal:      v.Confidence.Final,
		ConfidenceClassifier: v.Confidence.Classifier,
		Scenario:             v.Decision.Scenario,
		RepairedText:         v.Decision.RepairedText,
		RepairNote:           v.Decision.RepairNote,
		PrivacyGuardOK:       v.PrivacyOK,
		Cached:               cached,
	})
}

// internalError logs and answers a storage or pipeline fault.
func (d Deps) internalError(c *gin.Context, msg string, err error) {
	d.Metrics.RequestsTotal.WithLabelValues("internal_error").Inc()
	d.Logger.Error(msg, "error", err.Error())
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
}
