// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/rin-protocol/continuum/services/repair"
)

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline chains the stages in their fixed order:
//
//	Input Gate -> Safety Boundary -> Rhythm -> Tone -> Calibrator -> Router
//
// A safety hit short-circuits rhythm, tone, and calibration entirely.
//
// # Thread Safety
//
// Pipeline holds no per-request state; Process is safe for concurrent use.
type Pipeline struct {
	gate       *InputGate
	safety     *SafetyDetector
	rhythm     *RhythmAnalyzer
	classifier *ToneClassifier
	calibrator *Calibrator
	router     *Router
	logger     *slog.Logger
}

// Options configures pipeline construction.
type Options struct {
	// MaxInputBytes bounds accepted raw text. Zero means the default.
	MaxInputBytes int

	// Calibrator is the versioned blending parameter set. Zero-value
	// fields fall back to DefaultCalibratorParams.
	Calibrator CalibratorParams

	// Thresholds are the routing boundaries.
	Thresholds Thresholds

	// TiePrecedence overrides the classifier tie-break order. Nil keeps
	// the documented default.
	TiePrecedence []FreqType
}

// New assembles a Pipeline. executor may be nil (fallback-only repair);
// license may be nil (no license gating, for tests). logger may be nil.
func New(opts Options, executor repair.Executor, license LicenseGate, logger *slog.Logger) (*Pipeline, error) {
	if opts.Calibrator.Version == "" {
		opts.Calibrator = DefaultCalibratorParams()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}

	safety, err := NewSafetyDetector()
	if err != nil {
		return nil, err
	}
	classifier, err := NewToneClassifier(opts.TiePrecedence)
	if err != nil {
		return nil, err
	}
	calibrator, err := NewCalibrator(opts.Calibrator)
	if err != nil {
		return nil, err
	}
	router, err := NewRouter(opts.Thresholds, executor, license)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		gate:       NewInputGate(opts.MaxInputBytes),
		safety:     safety,
		rhythm:     NewRhythmAnalyzer(),
		classifier: classifier,
		calibrator: calibrator,
		router:     router,
		logger:     logger,
	}, nil
}

// Normalize runs only the input gate. Callers fingerprint the normalized
// text for cache lookups before deciding whether to run the full pipeline.
func (p *Pipeline) Normalize(text string) (NormalizedInput, error) {
	return p.gate.Normalize(text)
}

// Process runs one request through every stage and returns the aggregated
// result. The only returned error is a *ValidationError from the input
// gate; every later condition resolves to a Decision instead.
func (p *Pipeline) Process(ctx context.Context, text, scenario string) (*Result, error) {
	start := time.Now()

	input, err := p.gate.Normalize(text)
	if err != nil {
		return nil, err
	}

	res := &Result{Input: input}

	if hit, rule := p.safety.Detect(input); hit {
		res.SafetyHit = true
		res.SafetyRule = rule
		res.Class = Classification{FreqType: FreqOutOfScope}
		res.Confidence = CalibratedConfidence{Final: 1, Classifier: 1}
		res.Decision = p.router.Route(ctx, res, scenario)

		p.logger.Info("safety boundary hit",
			"rule", rule,
			"text_len", input.ByteLen,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return res, nil
	}

	res.Rhythm = p.rhythm.Analyze(input)
	res.Class = p.classifier.Classify(input)
	res.Confidence = p.calibrator.Calibrate(res.Class, res.Rhythm)
	res.Decision = p.router.Route(ctx, res, scenario)

	p.logger.Debug("pipeline decision",
		"freq_type", string(res.Class.FreqType),
		"decision_state", string(res.Decision.State),
		"mode", string(res.Decision.Mode),
		"confidence_final", res.Confidence.Final,
		"text_len", input.ByteLen,
		"language", input.Language,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
