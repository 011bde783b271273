// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("unit-test-license-key")

func testPayload() Payload {
	return Payload{
		LicenseID:  "lic-0001",
		ExpiryDate: "2030-12-31",
		QuotaLimit: 1000,
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	env, err := Seal(testPayload(), testKey)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)

	payload, err := Open(env, testKey)
	require.NoError(t, err)
	assert.Equal(t, testPayload(), payload)
}

func TestOpenWrongKey(t *testing.T) {
	env, err := Seal(testPayload(), testKey)
	require.NoError(t, err)

	_, err = Open(env, []byte("some-other-key"))
	assert.ErrorIs(t, err, ErrEnvelopeSignature)
}

func TestOpenTamperedCiphertext(t *testing.T) {
	env, err := Seal(testPayload(), testKey)
	require.NoError(t, err)

	// Flip one character of the ciphertext; the signature check must
	// reject before decryption is attempted.
	b := []byte(env.CiphertextB64)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	env.CiphertextB64 = string(b)

	_, err = Open(env, testKey)
	assert.ErrorIs(t, err, ErrEnvelopeSignature)
}

func TestOpenUnsupportedVersion(t *testing.T) {
	env, err := Seal(testPayload(), testKey)
	require.NoError(t, err)
	env.Version = 99

	_, err = Open(env, testKey)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)
}

func TestOpenBadEncodings(t *testing.T) {
	env, err := Seal(testPayload(), testKey)
	require.NoError(t, err)

	bad := env
	bad.NonceB64 = "!!!not-base64!!!"
	_, err = Open(bad, testKey)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)

	bad = env
	bad.SignatureHex = "zzzz"
	_, err = Open(bad, testKey)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)
}

func TestSealRejectsBadExpiry(t *testing.T) {
	p := testPayload()
	p.ExpiryDate = "31/12/2030"
	_, err := Seal(p, testKey)
	assert.Error(t, err)
}
