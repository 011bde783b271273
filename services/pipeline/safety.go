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
	"sort"
	"strings"

	"github.com/rin-protocol/continuum/services/pipeline/rules"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Safety Boundary Detector
// =============================================================================

// SafetyDetector scans normalized input for crisis/self-harm signals using
// lexical patterns and structural heuristics. A hit takes precedence over
// every downstream signal and cannot be overridden by confidence.
//
// Patterns are loaded from the embedded safety_patterns.yaml, compiled
// once at construction, and checked in descending priority order.
type SafetyDetector struct {
	patterns []safetyPattern
}

type safetyPattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

type safetyPatternFile struct {
	Patterns []safetyPattern `yaml:"patterns"`
}

// NewSafetyDetector parses and compiles the embedded crisis patterns.
// Returns an error if the embedded YAML is malformed or a regex does not
// compile; either condition is a build defect, not a runtime state.
func NewSafetyDetector() (*SafetyDetector, error) {
	var file safetyPatternFile
	if err := yaml.Unmarshal(rules.SafetyPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded safety patterns: %w", err)
	}

	for i := range file.Patterns {
		p := &file.Patterns[i]
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile safety pattern %s: %w", p.ID, err)
		}
		p.compiled = re
	}

	sort.SliceStable(file.Patterns, func(i, j int) bool {
		return file.Patterns[i].Priority > file.Patterns[j].Priority
	})

	return &SafetyDetector{patterns: file.Patterns}, nil
}

// Detect reports whether the input crosses the safety boundary. On a hit
// it returns true plus the content-free rule id of the first (highest
// priority) matching pattern.
func (d *SafetyDetector) Detect(input NormalizedInput) (bool, string) {
	for _, p := range d.patterns {
		if p.compiled.MatchString(input.Text) {
			return true, p.ID
		}
	}
	if structuralCrisisSignal(input.Text) {
		return true, "crisis-structural"
	}
	return false, ""
}

// despairTerms feed the structural heuristic. Kept narrow: the heuristic
// requires first person + an absolutist term + a despair term together,
// so ordinary frustration ("I will never finish this") does not trip it.
var despairTerms = []string{
	"hopeless", "pointless", "worthless", "unbearable", "give up on everything",
}

var absolutistTerms = []string{
	"never", "nothing", "no one", "nobody", "always", "everything",
}

// structuralCrisisSignal detects crisis phrasing that slips past the
// lexical patterns: a first-person frame combined with an absolutist term
// and a despair term in the same text.
func structuralCrisisSignal(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "i ") && !strings.Contains(lower, "i'") && !strings.HasPrefix(lower, "i") {
		return false
	}
	var absolutist, despair bool
	for _, t := range absolutistTerms {
		if strings.Contains(lower, t) {
			absolutist = true
			break
		}
	}
	for _, t := range despairTerms {
		if strings.Contains(lower, t) {
			despair = true
			break
		}
	}
	return absolutist && despair
}
