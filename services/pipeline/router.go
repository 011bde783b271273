// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"

	"github.com/rin-protocol/continuum/services/repair"
)

// =============================================================================
// Decision Router
// =============================================================================

// LicenseGate is the router's view of the license guard. The gateway
// wires the real guard behind this interface.
type LicenseGate interface {
	// AnalyzeAllowed reports whether the analyze path may execute. When
	// false, reason carries the enforcement outcome label (for example
	// "expired" or "quota_exceeded") used in the license-error scenario.
	AnalyzeAllowed() (allowed bool, reason string)
}

// Thresholds are the routing boundaries, validated at startup:
// 0 <= Guide <= Repair <= 1.
type Thresholds struct {
	Guide  float64 `yaml:"guide_threshold" validate:"gte=0,lte=1"`
	Repair float64 `yaml:"repair_threshold" validate:"gte=0,lte=1"`
}

// DefaultThresholds returns the documented default routing boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Guide: 0.45, Repair: 0.70}
}

// Validate enforces the threshold ordering invariant.
func (t Thresholds) Validate() error {
	if t.Guide < 0 || t.Repair > 1 || t.Guide > t.Repair {
		return fmt.Errorf("invalid thresholds: require 0 <= guide (%v) <= repair (%v) <= 1",
			t.Guide, t.Repair)
	}
	return nil
}

// Router maps (safety flag, freq_type, final confidence, license state)
// to the externally visible decision. It owns the only code path that
// invokes the Repair Executor.
type Router struct {
	thresholds Thresholds
	executor   repair.Executor
	fallback   repair.Executor
	license    LicenseGate
}

// NewRouter wires the router. executor may be nil, in which case the
// repair path goes straight to the deterministic fallback. license may be
// nil for unguarded (test) use.
func NewRouter(thresholds Thresholds, executor repair.Executor, license LicenseGate) (*Router, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		thresholds: thresholds,
		executor:   executor,
		fallback:   repair.NewLocalFallback(),
		license:    license,
	}, nil
}

// guidance notes attached on the suggest and low-confidence paths. The
// wording mirrors what clients already display; change with care.
const (
	noteSuggest = "Tone pressure detected. Consider softening before sending."
	noteRepair  = "Text was rewritten to reduce tone pressure. Review before use."
	noteUnknown = "Unable to detect a specific tone pattern. The text appears neutral or requires more context."
	noteCrisis  = "Safety boundary reached. Downstream systems must follow their crisis policy."
)

// Route produces the Decision for one request.
//
// Branch order is fixed: the safety boundary wins over everything,
// including license state; then license enforcement; then the threshold
// bands. The external repair call is bounded by the executor's own
// timeout and always falls back locally, so Route never returns an error
// for executor failures.
func (r *Router) Route(ctx context.Context, res *Result, scenario string) Decision {
	if res.SafetyHit {
		note := noteCrisis
		return Decision{
			State:        StateBlock,
			Mode:         ModeBlock,
			Scenario:     ScenarioCrisisOutOfScope,
			RepairedText: "",
			RepairNote:   &note,
		}
	}

	if r.license != nil {
		if allowed, reason := r.license.AnalyzeAllowed(); !allowed {
			return Decision{
				State:        StateBlock,
				Mode:         ModeBlock,
				Scenario:     ScenarioLicenseError + ":" + reason,
				RepairedText: "",
			}
		}
	}

	if scenario == "" {
		scenario = ScenarioGeneral
	}
	final := res.Confidence.Final

	switch {
	case res.Class.FreqType == FreqUnknown:
		note := noteUnknown
		return Decision{
			State:        StateAllow,
			Mode:         ModeNoop,
			Scenario:     scenario,
			RepairedText: res.Input.Text,
			RepairNote:   &note,
		}

	case res.Class.FreqType == FreqNeutral || final < r.thresholds.Guide:
		return Decision{
			State:        StateAllow,
			Mode:         ModeNoop,
			Scenario:     scenario,
			RepairedText: res.Input.Text,
		}

	case final < r.thresholds.Repair:
		note := noteSuggest
		return Decision{
			State:        StateGuide,
			Mode:         ModeSuggest,
			Scenario:     scenario,
			RepairedText: res.Input.Text,
			RepairNote:   &note,
		}

	default:
		return r.repairDecision(ctx, res, scenario)
	}
}

// repairDecision runs the external executor with local fallback. The
// caller never observes the executor failure.
func (r *Router) repairDecision(ctx context.Context, res *Result, scenario string) Decision {
	freqType := string(res.Class.FreqType)

	var repaired string
	var err error
	if r.executor != nil {
		repaired, err = r.executor.Repair(ctx, res.Input.Text, freqType, scenario)
	}
	if r.executor == nil || err != nil {
		// Deterministic local substitution path; cannot fail.
		repaired, _ = r.fallback.Repair(ctx, res.Input.Text, freqType, scenario)
	}

	note := noteRepair
	return Decision{
		State:        StateGuide,
		Mode:         ModeRepair,
		Scenario:     scenario,
		RepairedText: repaired,
		RepairNote:   &note,
	}
}
