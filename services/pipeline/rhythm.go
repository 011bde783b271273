// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"strings"
	"unicode"
)

// =============================================================================
// Rhythm Analyzer
// =============================================================================

// RhythmAnalyzer derives speed, intensity, and pause-pattern metrics from
// surface features of a normalized text. It is a deterministic, pure
// function of its input and performs no external calls.
type RhythmAnalyzer struct{}

// NewRhythmAnalyzer returns a RhythmAnalyzer.
func NewRhythmAnalyzer() *RhythmAnalyzer {
	return &RhythmAnalyzer{}
}

// Analyze computes the three bounded metrics for the input.
//
// Speed rises with short, clipped sentences and imperative cadence.
// Intensity rises with exclamation marks, shouted words, and repeated
// punctuation. Pause rises with commas, ellipses, and hedging breaks.
// All three scores are clamped to [0,1].
func (a *RhythmAnalyzer) Analyze(input NormalizedInput) RhythmMetrics {
	text := input.Text
	words := strings.Fields(text)
	wordCount := len(words)
	if wordCount == 0 {
		return RhythmMetrics{}
	}

	sentences := splitSentences(text)
	avgSentenceWords := float64(wordCount) / float64(len(sentences))

	// Speed: 1 when sentences average ~3 words, 0 at 20+ words.
	speed := clamp01((20.0 - avgSentenceWords) / 17.0)

	// Intensity: exclamations, all-caps words, repeated punctuation.
	exclaims := strings.Count(text, "!")
	questions := strings.Count(text, "?")
	caps := countShoutedWords(words)
	repeats := countRepeatRuns(text)
	intensity := clamp01((float64(exclaims)*0.8 + float64(caps)*0.9 +
		float64(repeats)*0.6 + float64(questions)*0.3) * 3.0 / float64(wordCount))

	// Pause: commas, semicolons, ellipses relative to text length.
	commas := strings.Count(text, ",") + strings.Count(text, ";")
	ellipses := strings.Count(text, "...") + strings.Count(text, "…")
	pause := clamp01((float64(commas) + float64(ellipses)*2.0) * 4.0 / float64(wordCount))

	return RhythmMetrics{
		Speed:     speed,
		Intensity: intensity,
		Pause:     pause,
	}
}

// splitSentences splits on terminal punctuation. Always returns at least
// one segment so callers can divide safely.
func splitSentences(text string) []string {
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
	})
	var out []string
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// countShoutedWords counts words of 3+ runes written entirely in capitals.
func countShoutedWords(words []string) int {
	count := 0
	for _, w := range words {
		letters := 0
		upper := 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters >= 3 && letters == upper {
			count++
		}
	}
	return count
}

// countRepeatRuns counts runs of 2+ identical terminal punctuation marks
// ("!!", "???"), a common pressure marker.
func countRepeatRuns(text string) int {
	count := 0
	var prev rune
	runLen := 1
	for _, r := range text {
		if r == prev && (r == '!' || r == '?') {
			runLen++
			if runLen == 2 {
				count++
			}
		} else {
			runLen = 1
		}
		prev = r
	}
	return count
}
