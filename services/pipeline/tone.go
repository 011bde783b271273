// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"regexp"

	"github.com/rin-protocol/continuum/services/pipeline/rules"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Tone Classifier
// =============================================================================

// marginScale normalizes the raw top-2 margin into [0,1]. A margin of
// 0.6 or more maps to full classifier confidence.
const marginScale = 0.6

// maxMarkerMatches caps how often a single marker can contribute, so one
// repeated phrase cannot dominate a category score.
const maxMarkerMatches = 2

// ToneClassifier scores text against the five tone categories using the
// embedded marker tables and deterministic rule-based scoring.
//
// The highest-scoring category becomes the freq_type unless all scores
// fall below the floor, in which case the classifier yields Neutral.
// Texts whose detected language the marker tables do not cover yield
// Unknown. Ties are broken by the configured precedence order, which is
// stable across releases for reproducibility.
type ToneClassifier struct {
	categories []toneCategory
	floor      float64
	precedence map[FreqType]int
}

type toneCategory struct {
	Name    string       `yaml:"name"`
	Markers []toneMarker `yaml:"markers"`
}

type toneMarker struct {
	Regex  string  `yaml:"regex"`
	Weight float64 `yaml:"weight"`

	compiled *regexp.Regexp
}

type toneMarkerFile struct {
	Floor      float64        `yaml:"floor"`
	Categories []toneCategory `yaml:"categories"`
}

// NewToneClassifier parses and compiles the embedded marker tables.
// precedence overrides the tie-break order; nil keeps ScoredFreqTypes.
func NewToneClassifier(precedence []FreqType) (*ToneClassifier, error) {
	var file toneMarkerFile
	if err := yaml.Unmarshal(rules.ToneMarkers, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded tone markers: %w", err)
	}
	if file.Floor <= 0 || file.Floor >= 1 {
		return nil, fmt.Errorf("tone marker floor %v out of range (0,1)", file.Floor)
	}

	for i := range file.Categories {
		cat := &file.Categories[i]
		if !isScoredFreqType(FreqType(cat.Name)) {
			return nil, fmt.Errorf("unknown tone category %q in marker table", cat.Name)
		}
		for j := range cat.Markers {
			m := &cat.Markers[j]
			re, err := regexp.Compile(m.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile marker for %s: %w", cat.Name, err)
			}
			m.compiled = re
		}
	}

	if precedence == nil {
		precedence = ScoredFreqTypes
	}
	order := make(map[FreqType]int, len(precedence))
	for i, ft := range precedence {
		order[ft] = i
	}

	return &ToneClassifier{
		categories: file.Categories,
		floor:      file.Floor,
		precedence: order,
	}, nil
}

// Classify scores the input against every category and selects the best.
func (c *ToneClassifier) Classify(input NormalizedInput) Classification {
	// The marker tables cover English surface forms only. Rather than
	// mislabel an uncovered language as calm, report Unknown.
	if input.Language != "en" {
		return Classification{FreqType: FreqUnknown}
	}

	scores := make(map[FreqType]float64, len(c.categories))
	for _, cat := range c.categories {
		scores[FreqType(cat.Name)] = c.scoreCategory(cat, input.Text)
	}

	top, second := c.topTwo(scores)
	margin := scores[top] - scores[second]

	if scores[top] < c.floor {
		return Classification{
			FreqType: FreqNeutral,
			Scores:   scores,
		}
	}
	return Classification{
		FreqType:   top,
		Confidence: clamp01(margin / marginScale),
		Margin:     margin,
		Scores:     scores,
	}
}

// scoreCategory sums weighted marker matches, capping each marker's
// contribution at maxMarkerMatches occurrences.
func (c *ToneClassifier) scoreCategory(cat toneCategory, text string) float64 {
	score := 0.0
	for _, m := range cat.Markers {
		matches := len(m.compiled.FindAllStringIndex(text, maxMarkerMatches))
		score += m.Weight * float64(matches)
	}
	return score
}

// topTwo returns the best and runner-up categories, breaking score ties
// by the configured precedence order.
func (c *ToneClassifier) topTwo(scores map[FreqType]float64) (FreqType, FreqType) {
	best, runner := FreqType(""), FreqType("")
	for _, ft := range ScoredFreqTypes {
		if _, ok := scores[ft]; !ok {
			continue
		}
		if best == "" || c.beats(ft, best, scores) {
			runner = best
			best = ft
		} else if runner == "" || c.beats(ft, runner, scores) {
			runner = ft
		}
	}
	if runner == "" {
		runner = best
	}
	return best, runner
}

// beats reports whether a outranks b: higher score wins, equal scores
// fall back to precedence order.
func (c *ToneClassifier) beats(a, b FreqType, scores map[FreqType]float64) bool {
	if scores[a] != scores[b] {
		return scores[a] > scores[b]
	}
	return c.precedence[a] < c.precedence[b]
}

func isScoredFreqType(ft FreqType) bool {
	for _, s := range ScoredFreqTypes {
		if s == ft {
			return true
		}
	}
	return false
}
