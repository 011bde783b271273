// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evidence builds, validates, and persists the content-free audit
// record emitted for every decision.
//
// An evidence record holds fingerprints, lengths, labels, and scrubbed
// metric objects — never raw or normalized text. Records are modeled as a
// generic tree of values (maps and slices) rather than a fixed struct, so
// the denylist scrub and the schema validator work independently of the
// concrete record shape.
package evidence

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rin-protocol/continuum/services/pipeline"
)

// SchemaVersion marks the record layout; bumped on breaking changes.
const SchemaVersion = "evidence/v1"

// Record is a tree-of-values audit record. Keys are strings throughout;
// values are JSON-representable scalars, maps, and slices.
type Record = map[string]any

// BuildInput carries everything the builder needs beyond the pipeline
// result itself.
type BuildInput struct {
	// Fingerprint is the one-way digest of (normalized text, scenario).
	Fingerprint string

	// Result is the full pipeline output for the request.
	Result *pipeline.Result

	// ServiceVersion is the release marker recorded for forensics.
	ServiceVersion string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Build constructs a schema-conformant, content-free record. Every nested
// object passes through the denylist scrub before inclusion, then the
// validator stamps schema_valid / schema_errors in place. Build never
// fails: an invalid record is still returned (and persisted) with
// schema_valid:false.
func Build(in BuildInput) Record {
	now := in.Now
	if now == nil {
		now = time.Now
	}
	res := in.Result

	metrics := Record{
		"speed":     res.Rhythm.Speed,
		"intensity": res.Rhythm.Intensity,
		"pause":     res.Rhythm.Pause,
	}

	audit := Record{
		"safety_hit":     res.SafetyHit,
		"safety_rule":    res.SafetyRule,
		"language":       res.Input.Language,
		"schema_version": SchemaVersion,
		"runtime":        runtime.Version(),
		"version":        in.ServiceVersion,
	}

	record := Record{
		"record_id":   uuid.NewString(),
		"created_at":  now().UTC().Format(time.RFC3339),
		"fingerprint": in.Fingerprint,
		"text_len":    res.Input.ByteLen,
		"freq_type":   string(res.Class.FreqType),
		"decision": Record{
			"decision_state": string(res.Decision.State),
			"mode":           string(res.Decision.Mode),
			"scenario":       res.Decision.Scenario,
			"repaired_len":   len(res.Decision.RepairedText),
			"note_attached":  res.Decision.RepairNote != nil,
		},
		"confidence": Record{
			"final":          res.Confidence.Final,
			"classifier":     res.Confidence.Classifier,
			"params_version": res.Confidence.ParamsVersion,
		},
		"metrics": Scrub(metrics),
		"audit":   Scrub(audit),
	}

	valid, errs := Validate(record)
	record["schema_valid"] = valid
	record["schema_errors"] = errs
	return record
}

// RecordID extracts the record id, empty if absent or mistyped.
func RecordID(r Record) string {
	id, _ := r["record_id"].(string)
	return id
}
