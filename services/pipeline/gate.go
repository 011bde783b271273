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
	"unicode/utf8"
)

// =============================================================================
// Input Gate
// =============================================================================

// InputGate normalizes and validates raw text before it enters the
// pipeline. It rejects empty, oversized, or undecodable input with a
// *ValidationError and otherwise produces an immutable NormalizedInput.
type InputGate struct {
	// MaxBytes is the maximum accepted raw text length in bytes.
	MaxBytes int
}

// DefaultMaxInputBytes matches the public API contract of one thousand
// characters of UTF-8 text with headroom for multi-byte runes.
const DefaultMaxInputBytes = 4096

// NewInputGate returns an InputGate with the given maximum byte length.
// A non-positive maxBytes falls back to DefaultMaxInputBytes.
func NewInputGate(maxBytes int) *InputGate {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInputBytes
	}
	return &InputGate{MaxBytes: maxBytes}
}

// Normalize validates raw text and produces a NormalizedInput.
//
// Validation failures return a *ValidationError:
//   - empty (or whitespace-only) text
//   - text exceeding MaxBytes
//   - text that is not valid UTF-8
//
// Normalization trims surrounding whitespace and collapses internal runs
// of whitespace to a single space, so that caching and fingerprinting see
// one canonical form per logical input.
func (g *InputGate) Normalize(raw string) (NormalizedInput, error) {
	if len(raw) > g.MaxBytes {
		return NormalizedInput{}, &ValidationError{
			Field:  "text",
			Reason: "exceeds maximum length",
		}
	}
	if !utf8.ValidString(raw) {
		return NormalizedInput{}, &ValidationError{
			Field:  "text",
			Reason: "not valid UTF-8",
		}
	}

	cleaned := collapseWhitespace(raw)
	if cleaned == "" {
		return NormalizedInput{}, &ValidationError{
			Field:  "text",
			Reason: "empty",
		}
	}

	return NormalizedInput{
		Text:     cleaned,
		ByteLen:  len(raw),
		Language: detectLanguage(cleaned),
	}, nil
}

// collapseWhitespace trims the string and replaces every internal run of
// Unicode whitespace with a single ASCII space.
func collapseWhitespace(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

// detectLanguage applies a coarse script heuristic: texts dominated by Han
// runes are tagged "zh", texts dominated by Latin letters "en", anything
// else "und". This is a routing hint, not a full language identifier.
func detectLanguage(s string) string {
	var han, latin, letters int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Han, r):
			han++
		case r <= unicode.MaxLatin1 || unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if letters == 0 {
		return "und"
	}
	switch {
	case han*2 > letters:
		return "zh"
	case latin*2 > letters:
		return "en"
	default:
		return "und"
	}
}
