// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file serves as the bridge between the build system and the runtime
logic. It uses the Go embed package to bake the rule tables directly into
the compiled binary, so the safety and tone rules are immutable at runtime
and travel with the executable.
*/

package rules

import (
	_ "embed"
)

// SafetyPatterns holds the raw byte content of 'safety_patterns.yaml'.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML
// into the binary ensures the crisis detection rules cannot be tampered
// with on the host filesystem without recompiling the application.
//
// Usage:
//
//	err := yaml.Unmarshal(rules.SafetyPatterns, &targetStruct)
//
//go:embed safety_patterns.yaml
var SafetyPatterns []byte

// ToneMarkers holds the raw byte content of 'tone_markers.yaml', the
// per-category lexical and structural marker tables used by the tone
// classifier.
//
//go:embed tone_markers.yaml
var ToneMarkers []byte
