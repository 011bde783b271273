// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "fmt"

// =============================================================================
// Confidence Calibrator
// =============================================================================

// CalibratorParams is the versioned parameter set for the confidence
// blend. The exact formula is a tunable; consumers must rely only on the
// contract (output in [0,1], monotone in each input), never on specific
// parameter values.
type CalibratorParams struct {
	// Version identifies this parameter set in evidence records.
	Version string `yaml:"version" validate:"required"`

	// WeightIntensity scales how much detected intensity lifts the
	// classifier confidence. Must be in [0,1].
	WeightIntensity float64 `yaml:"weight_intensity" validate:"gte=0,lte=1"`

	// WeightSpeed scales the contribution of the speed metric.
	WeightSpeed float64 `yaml:"weight_speed" validate:"gte=0,lte=1"`

	// WeightPause scales how much a pause-heavy, low-pressure rhythm
	// dampens the final confidence.
	WeightPause float64 `yaml:"weight_pause" validate:"gte=0,lte=1"`
}

// DefaultCalibratorParams returns the v1 parameter set.
func DefaultCalibratorParams() CalibratorParams {
	return CalibratorParams{
		Version:         "v1",
		WeightIntensity: 0.4,
		WeightSpeed:     0.2,
		WeightPause:     0.3,
	}
}

// Validate checks the parameter set bounds.
func (p CalibratorParams) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("calibrator params version is required")
	}
	for name, w := range map[string]float64{
		"weight_intensity": p.WeightIntensity,
		"weight_speed":     p.WeightSpeed,
		"weight_pause":     p.WeightPause,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("calibrator %s %v out of range [0,1]", name, w)
		}
	}
	return nil
}

// Calibrator combines the classifier confidence with rhythm metrics into
// the single final confidence in [0,1].
type Calibrator struct {
	params CalibratorParams
}

// NewCalibrator returns a Calibrator with the given parameter set.
func NewCalibrator(params CalibratorParams) (*Calibrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{params: params}, nil
}

// Calibrate produces the final confidence.
//
// The v1 blend multiplies the classifier confidence by a bounded rhythm
// factor: intensity and speed above their midpoint lift it, a pause-heavy
// rhythm above its midpoint dampens it. The result is always clamped to
// [0,1] and is monotone non-decreasing in classifier confidence,
// intensity, and speed, and non-increasing in pause.
func (c *Calibrator) Calibrate(cls Classification, rhythm RhythmMetrics) CalibratedConfidence {
	base := clamp01(cls.Confidence)

	factor := 1.0 +
		c.params.WeightIntensity*(clamp01(rhythm.Intensity)-0.5) +
		c.params.WeightSpeed*(clamp01(rhythm.Speed)-0.5)
	if damp := clamp01(rhythm.Pause) - 0.5; damp > 0 {
		factor -= c.params.WeightPause * damp
	}

	return CalibratedConfidence{
		Final:         clamp01(base * factor),
		Classifier:    base,
		ParamsVersion: c.params.Version,
	}
}
