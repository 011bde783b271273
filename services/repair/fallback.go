// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"strings"
)

// =============================================================================
// Deterministic Local Fallback
// =============================================================================

// LocalFallback is the deterministic substitution path used when the
// external executor times out or fails. It produces the same output for
// the same input, unconditionally and without I/O, so the decision router
// can always yield a repaired text.
type LocalFallback struct{}

// NewLocalFallback returns the fallback executor.
func NewLocalFallback() *LocalFallback {
	return &LocalFallback{}
}

// substitutions maps pressure phrasing to softened equivalents. Applied
// case-insensitively, longest phrase first, one pass.
var substitutions = []struct{ from, to string }{
	{"do it now", "when you have a moment, could you take care of this"},
	{"right now", "as soon as you reasonably can"},
	{"immediately", "as soon as possible"},
	{"unacceptable", "not what I was hoping for"},
	{"ridiculous", "surprising to me"},
	{"you need to", "it would help if you could"},
	{"you have to", "it would help if you could"},
	{"you must", "please"},
	{"no excuses", "I'd appreciate your focus on this"},
	{"asap", "when you can"},
	{"or else", "otherwise we may need to revisit the plan"},
	{"last chance", "one more opportunity"},
	{"hurry up", "please prioritize this"},
	{"i expect", "I would appreciate"},
}

// prefixByTone prepends a brief softening frame per detected category.
var prefixByTone = map[string]string{
	"Sharp":   "I want to flag this urgently, but respectfully: ",
	"Pushy":   "I know there is a lot going on — ",
	"Cold":    "Just so this reads the way I mean it: ",
	"Anxious": "Sharing where my head is at: ",
	"Blur":    "Let me try to say this more directly: ",
}

// Repair applies deterministic substitutions and a tone-specific prefix.
// It never fails; the error return exists to satisfy Executor.
func (f *LocalFallback) Repair(_ context.Context, text, freqType, _ string) (string, error) {
	repaired := text
	for _, sub := range substitutions {
		repaired = replaceFold(repaired, sub.from, sub.to)
	}
	repaired = strings.TrimSpace(strings.TrimRight(repaired, "!")) + "."
	repaired = strings.ReplaceAll(repaired, "..", ".")

	if prefix, ok := prefixByTone[freqType]; ok {
		repaired = prefix + repaired
	}
	return repaired, nil
}

// replaceFold replaces every case-insensitive occurrence of old with repl.
func replaceFold(s, old, repl string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	target := strings.ToLower(old)
	for {
		i := strings.Index(lower, target)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(old):]
		lower = lower[i+len(target):]
	}
}
