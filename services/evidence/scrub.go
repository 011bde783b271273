// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import "strings"

// deniedKeys is the content-key denylist. Any key on this list, at any
// nesting depth, is dropped wholesale from a record before persistence.
// The comparison is case-insensitive. Keys stay denied even when their
// value happens to be empty.
var deniedKeys = map[string]struct{}{
	"text":            {},
	"original":        {},
	"original_text":   {},
	"raw":             {},
	"raw_text":        {},
	"input":           {},
	"input_text":      {},
	"normalized_text": {},
	"repaired_text":   {},
	"repair_note":     {},
	"content":         {},
	"message":         {},
	"body":            {},
	"prompt":          {},
	"completion":      {},
	"query":           {},
}

// Scrub returns a deep copy of r with every denylisted key removed at
// every depth. The input is never mutated. Slices are walked element by
// element; non-container values pass through unchanged.
func Scrub(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if denied(k) {
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Scrub(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = scrubValue(e)
		}
		return out
	default:
		return v
	}
}

func denied(key string) bool {
	_, ok := deniedKeys[strings.ToLower(key)]
	return ok
}
