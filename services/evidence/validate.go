// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import "fmt"

// Validate checks a record against the evidence/v1 schema. It never
// returns an error value and never panics: a malformed record yields
// valid=false plus a non-empty list of human-readable problems, and the
// caller persists the record regardless. Audit trails keep bad rows.
func Validate(r Record) (valid bool, errs []string) {
	errs = []string{}

	requireString := func(key string) string {
		v, ok := r[key]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing field %q", key))
			return ""
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field %q is not a string", key))
			return ""
		}
		if s == "" {
			errs = append(errs, fmt.Sprintf("field %q is empty", key))
		}
		return s
	}

	requireString("record_id")
	requireString("created_at")
	requireString("fingerprint")
	requireString("freq_type")

	if v, ok := r["text_len"]; !ok {
		errs = append(errs, `missing field "text_len"`)
	} else {
		// int at build time, float64 after a JSON round-trip
		switch n := v.(type) {
		case int:
			if n < 0 {
				errs = append(errs, `field "text_len" is negative`)
			}
		case float64:
			if n < 0 {
				errs = append(errs, `field "text_len" is negative`)
			}
		default:
			errs = append(errs, `field "text_len" is not an integer`)
		}
	}

	decision, ok := r["decision"].(map[string]any)
	if !ok {
		errs = append(errs, `missing or malformed object "decision"`)
	} else {
		ds, _ := decision["decision_state"].(string)
		switch ds {
		case "ALLOW", "GUIDE", "BLOCK":
		default:
			errs = append(errs, fmt.Sprintf("decision.decision_state %q is not one of ALLOW, GUIDE, BLOCK", ds))
		}
		if m, _ := decision["mode"].(string); m == "" {
			errs = append(errs, `decision.mode is missing or empty`)
		}
	}

	conf, ok := r["confidence"].(map[string]any)
	if !ok {
		errs = append(errs, `missing or malformed object "confidence"`)
	} else if f, ok := conf["final"].(float64); !ok {
		errs = append(errs, `confidence.final is not a number`)
	} else if f < 0 || f > 1 {
		errs = append(errs, fmt.Sprintf("confidence.final %v is outside [0,1]", f))
	}

	if _, ok := r["metrics"].(map[string]any); !ok {
		errs = append(errs, `missing or malformed object "metrics"`)
	}
	if _, ok := r["audit"].(map[string]any); !ok {
		errs = append(errs, `missing or malformed object "audit"`)
	}

	if leaked := findDeniedKeys(r, ""); len(leaked) > 0 {
		for _, path := range leaked {
			errs = append(errs, fmt.Sprintf("content key %q present after scrub", path))
		}
	}

	return len(errs) == 0, errs
}

// findDeniedKeys walks the record tree and reports the dotted path of any
// denylisted key that survived scrubbing.
func findDeniedKeys(r Record, prefix string) []string {
	var leaked []string
	for k, v := range r {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if denied(k) {
			leaked = append(leaked, path)
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			leaked = append(leaked, findDeniedKeys(t, path)...)
		case []any:
			for i, e := range t {
				if m, ok := e.(map[string]any); ok {
					leaked = append(leaked, findDeniedKeys(m, fmt.Sprintf("%s[%d]", path, i))...)
				}
			}
		}
	}
	return leaked
}
