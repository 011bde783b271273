// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the Continuum decision pipeline: input
// gating, safety boundary detection, rhythm analysis, tone classification,
// confidence calibration, and decision routing.
//
// The pipeline is stateless and safely re-entrant per request. Stages run
// strictly in order; the safety boundary detector may short-circuit the
// remaining stages with a BLOCK decision.
package pipeline

import "fmt"

// =============================================================================
// Tone Categories
// =============================================================================

// FreqType is the detected tone category of a text, including the sentinel
// values Neutral, OutOfScope, and Unknown.
//
// The five scored categories (Anxious through Pushy) are assigned by the
// rule-based classifier. Neutral is assigned when every category score
// falls below the classifier floor. OutOfScope is reserved for the safety
// boundary detector and is never produced by scoring. Unknown marks a
// text the classifier could not place.
type FreqType string

const (
	FreqAnxious    FreqType = "Anxious"
	FreqCold       FreqType = "Cold"
	FreqSharp      FreqType = "Sharp"
	FreqBlur       FreqType = "Blur"
	FreqPushy      FreqType = "Pushy"
	FreqNeutral    FreqType = "Neutral"
	FreqOutOfScope FreqType = "OutOfScope"
	FreqUnknown    FreqType = "Unknown"
)

// ScoredFreqTypes lists the categories the classifier actually scores, in
// the default tie-break precedence order. Precedence is configuration but
// this order is the documented default and is stable across releases.
var ScoredFreqTypes = []FreqType{FreqAnxious, FreqSharp, FreqPushy, FreqCold, FreqBlur}

// =============================================================================
// Decision States and Modes
// =============================================================================

// DecisionState is the externally visible verdict. Exactly one of the
// three values is emitted per request, regardless of internal mode.
type DecisionState string

const (
	StateAllow DecisionState = "ALLOW"
	StateGuide DecisionState = "GUIDE"
	StateBlock DecisionState = "BLOCK"
)

// Mode is the internal execution path realizing a DecisionState. The
// mapping is many-to-one: both suggest and repair surface as GUIDE.
type Mode string

const (
	ModeNoop    Mode = "no-op"
	ModeSuggest Mode = "suggest"
	ModeRepair  Mode = "repair"
	ModeBlock   Mode = "block"
)

// State returns the external DecisionState a Mode maps onto.
func (m Mode) State() DecisionState {
	switch m {
	case ModeSuggest, ModeRepair:
		return StateGuide
	case ModeBlock:
		return StateBlock
	default:
		return StateAllow
	}
}

// Well-known scenario labels emitted by the router.
const (
	ScenarioCrisisOutOfScope = "crisis_out_of_scope"
	ScenarioLicenseError     = "license_error"
	ScenarioGeneral          = "general"
)

// =============================================================================
// Pipeline Intermediates
// =============================================================================

// NormalizedInput is the validated, cleaned form of a raw text. Immutable
// once produced by the input gate.
type NormalizedInput struct {
	// Text is the trimmed, whitespace-collapsed input.
	Text string

	// ByteLen is the byte length of the original raw text.
	ByteLen int

	// Language is a coarse BCP-47-ish tag: "en", "zh", or "und".
	Language string
}

// RhythmMetrics holds the three bounded surface metrics derived from a
// normalized text. Each score is in [0,1].
type RhythmMetrics struct {
	Speed     float64 `json:"speed"`
	Intensity float64 `json:"intensity"`
	Pause     float64 `json:"pause"`
}

// Classification is the tone classifier output.
type Classification struct {
	// FreqType is the best-scoring category, or a sentinel.
	FreqType FreqType

	// Confidence is derived from the top-2 margin, normalized to [0,1].
	Confidence float64

	// Margin is the raw distance between the top two category scores.
	Margin float64

	// Scores holds the per-category raw scores, content-free.
	Scores map[FreqType]float64
}

// CalibratedConfidence is the calibrator output.
type CalibratedConfidence struct {
	// Final is the blended confidence, clamped to [0,1].
	Final float64 `json:"final"`

	// Classifier echoes the classifier confidence that fed the blend.
	Classifier float64 `json:"classifier"`

	// ParamsVersion identifies the blending parameter set used.
	ParamsVersion string `json:"params_version"`
}

// Decision is the routed outcome for one request.
type Decision struct {
	// State is the externally visible verdict.
	State DecisionState

	// Mode is the internal execution path that realized State.
	Mode Mode

	// Scenario is a free-form label for the routing branch taken.
	Scenario string

	// RepairedText is the output text. Equal to the input on ALLOW and
	// suggest paths; rewritten on the repair path; empty on BLOCK.
	RepairedText string

	// RepairNote is an optional guidance note. Nil means no note.
	RepairNote *string
}

// Result aggregates every pipeline intermediate for one request. It feeds
// the evidence builder; handlers must only expose its content-free fields.
type Result struct {
	Input      NormalizedInput
	SafetyHit  bool
	SafetyRule string
	Rhythm     RhythmMetrics
	Class      Classification
	Confidence CalibratedConfidence
	Decision   Decision
}

// =============================================================================
// Errors
// =============================================================================

// ValidationError reports malformed input rejected before pipeline entry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// clamp01 bounds v to [0,1]. Confidence fields are always clamped before
// leaving a stage.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
