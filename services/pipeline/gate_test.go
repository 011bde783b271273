// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputGateNormalize(t *testing.T) {
	gate := NewInputGate(0)

	input, err := gate.Normalize("  The   meeting\tis at\n3pm  ")
	require.NoError(t, err)
	assert.Equal(t, "The meeting is at 3pm", input.Text)
	assert.Equal(t, "en", input.Language)
	assert.Greater(t, input.ByteLen, 0)
}

func TestInputGateRejectsEmpty(t *testing.T) {
	gate := NewInputGate(0)

	for _, raw := range []string{"", "   ", "\n\t "} {
		_, err := gate.Normalize(raw)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "input %q", raw)
		assert.Equal(t, "text", verr.Field)
	}
}

func TestInputGateRejectsOversized(t *testing.T) {
	gate := NewInputGate(16)

	_, err := gate.Normalize(strings.Repeat("a", 17))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "maximum length")
}

func TestInputGateRejectsInvalidUTF8(t *testing.T) {
	gate := NewInputGate(0)

	_, err := gate.Normalize("hello \xff\xfe world")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "UTF-8")
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"The meeting is at 3pm", "en"},
		{"今天的会议改到下午三点了", "zh"},
		{"12345 !!!", "und"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, detectLanguage(tc.text), "text %q", tc.text)
	}
}
