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

func classifyText(t *testing.T, text string) Classification {
	t.Helper()
	classifier, err := NewToneClassifier(nil)
	require.NoError(t, err)
	return classifier.Classify(NormalizedInput{Text: text, Language: "en"})
}

func TestClassifyNeutralBelowFloor(t *testing.T) {
	cls := classifyText(t, "The meeting is at 3pm")
	assert.Equal(t, FreqNeutral, cls.FreqType)
	assert.Zero(t, cls.Confidence)
}

func TestClassifySharp(t *testing.T) {
	cls := classifyText(t, "Do it now. This is UNACCEPTABLE!!! You need to fix it immediately.")
	assert.Equal(t, FreqSharp, cls.FreqType)
	assert.Greater(t, cls.Confidence, 0.5)
	assert.Greater(t, cls.Margin, 0.0)
}

func TestClassifyAnxious(t *testing.T) {
	cls := classifyText(t, "Sorry to bother you, but I'm worried and nervous about this. What if it fails??")
	assert.Equal(t, FreqAnxious, cls.FreqType)
}

func TestClassifyPushy(t *testing.T) {
	cls := classifyText(t, "I expect this done ASAP, no excuses, the deadline is tonight")
	assert.Equal(t, FreqPushy, cls.FreqType)
}

func TestClassifyConfidenceAlwaysBounded(t *testing.T) {
	texts := []string{
		"", "ok", "DO IT NOW!!! UNACCEPTABLE!!! IMMEDIATELY!!!",
		"maybe, perhaps, kind of, sort of... I guess",
		"Sorry to bother you, what if everything fails??",
	}
	for _, text := range texts {
		cls := classifyText(t, text)
		assert.GreaterOrEqual(t, cls.Confidence, 0.0, "text %q", text)
		assert.LessOrEqual(t, cls.Confidence, 1.0, "text %q", text)
	}
}

func TestClassifyUnknownForUncoveredLanguage(t *testing.T) {
	classifier, err := NewToneClassifier(nil)
	require.NoError(t, err)

	cls := classifier.Classify(NormalizedInput{Text: "今天的会议改到下午三点了", Language: "zh"})
	assert.Equal(t, FreqUnknown, cls.FreqType)
	assert.Zero(t, cls.Confidence)
}

func TestClassifyTiePrecedence(t *testing.T) {
	// With all scores at zero the floor rule wins, so force a tie above
	// the floor via a custom precedence order and equal-weight inputs is
	// brittle; instead verify the comparator directly.
	classifier, err := NewToneClassifier(nil)
	require.NoError(t, err)

	scores := map[FreqType]float64{
		FreqAnxious: 0.5, FreqSharp: 0.5, FreqPushy: 0.1, FreqCold: 0, FreqBlur: 0,
	}
	top, second := classifier.topTwo(scores)
	assert.Equal(t, FreqAnxious, top, "default precedence puts Anxious over Sharp on ties")
	assert.Equal(t, FreqSharp, second)
}

func TestClassifyCustomPrecedence(t *testing.T) {
	classifier, err := NewToneClassifier([]FreqType{FreqSharp, FreqAnxious, FreqPushy, FreqCold, FreqBlur})
	require.NoError(t, err)

	scores := map[FreqType]float64{
		FreqAnxious: 0.5, FreqSharp: 0.5, FreqPushy: 0, FreqCold: 0, FreqBlur: 0,
	}
	top, _ := classifier.topTwo(scores)
	assert.Equal(t, FreqSharp, top)
}

func TestClassifyDeterministic(t *testing.T) {
	text := "I expect this ASAP, no excuses!!"
	first := classifyText(t, text)
	second := classifyText(t, text)
	assert.Equal(t, first.FreqType, second.FreqType)
	assert.Equal(t, first.Confidence, second.Confidence)
}
