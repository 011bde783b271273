// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetyDetectorHits(t *testing.T) {
	detector, err := NewSafetyDetector()
	require.NoError(t, err)

	hits := []string{
		"I can't go on, nothing matters anymore",
		"I want to end my life",
		"there is no reason to live",
		"goodbye forever, everyone",
		"everything feels hopeless and I have nothing left",
	}
	for _, text := range hits {
		hit, rule := detector.Detect(NormalizedInput{Text: text, Language: "en"})
		assert.True(t, hit, "expected hit for %q", text)
		assert.NotEmpty(t, rule)
	}
}

func TestSafetyDetectorClearTexts(t *testing.T) {
	detector, err := NewSafetyDetector()
	require.NoError(t, err)

	clear := []string{
		"The meeting is at 3pm",
		"I will never finish this report by Friday",
		"this deadline is killing my schedule",
		"Do it now, this is unacceptable!!!",
	}
	for _, text := range clear {
		hit, _ := detector.Detect(NormalizedInput{Text: text, Language: "en"})
		assert.False(t, hit, "unexpected hit for %q", text)
	}
}

func TestSafetyDetectorPriorityOrder(t *testing.T) {
	detector, err := NewSafetyDetector()
	require.NoError(t, err)

	// Matches both the direct-intent and hopelessness patterns; the
	// higher-priority direct pattern must win.
	hit, rule := detector.Detect(NormalizedInput{
		Text: "I want to end my life, I can't go on",
	})
	require.True(t, hit)
	assert.Equal(t, "crisis-self-harm-direct", rule)
}
