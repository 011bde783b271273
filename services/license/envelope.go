// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package license implements the Continuum license envelope codec and the
// guard state machine that gates the analyze path.
//
// A license travels as a JSON envelope: an AES-256-GCM ciphertext plus an
// HMAC-SHA256 signature, both keyed from the customer license key. The
// payload inside carries the license id, expiry date, and quota limit.
package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeVersion is the only envelope format this codec understands.
const EnvelopeVersion = 1

// Sentinel errors for envelope handling. Wrapped errors carry detail;
// callers test with errors.Is.
var (
	ErrEnvelopeFormat    = errors.New("malformed license envelope")
	ErrEnvelopeSignature = errors.New("license envelope signature mismatch")
	ErrEnvelopeDecrypt   = errors.New("license envelope decryption failed")
)

// Envelope is the on-disk license format.
type Envelope struct {
	Version       int    `json:"version"`
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
	SignatureHex  string `json:"signature_hex"`
}

// Payload is the decrypted license content.
type Payload struct {
	LicenseID  string `json:"license_id"`
	ExpiryDate string `json:"expiry_date"` // ISO date, e.g. "2026-12-31"
	QuotaLimit int64  `json:"quota_limit"` // non-negative; 0 means unmetered
}

// Expiry parses the ISO expiry date.
func (p Payload) Expiry() (time.Time, error) {
	t, err := time.Parse("2006-01-02", p.ExpiryDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad expiry_date: %v", ErrEnvelopeFormat, err)
	}
	return t, nil
}

// keyMaterial derives the cipher and signing keys from the customer
// license key. The two keys are domain-separated so a signature can never
// double as a cipher key.
func keyMaterial(licenseKey []byte) (cipherKey, signKey [32]byte) {
	cipherKey = sha256.Sum256(append([]byte("continuum-license-enc:"), licenseKey...))
	signKey = sha256.Sum256(append([]byte("continuum-license-sig:"), licenseKey...))
	return
}

// signEnvelope computes HMAC-SHA256 over version|nonce|ciphertext.
func signEnvelope(signKey []byte, version int, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, signKey)
	fmt.Fprintf(mac, "v%d|", version)
	mac.Write(nonce)
	mac.Write([]byte{'|'})
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// Open verifies the envelope signature and decrypts the payload.
//
// Verification happens before decryption; a tampered envelope fails with
// ErrEnvelopeSignature without ever touching the cipher.
func Open(env Envelope, licenseKey []byte) (Payload, error) {
	if env.Version != EnvelopeVersion {
		return Payload{}, fmt.Errorf("%w: unsupported version %d", ErrEnvelopeFormat, env.Version)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: bad nonce encoding: %v", ErrEnvelopeFormat, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.CiphertextB64)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrEnvelopeFormat, err)
	}
	signature, err := hex.DecodeString(env.SignatureHex)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: bad signature encoding: %v", ErrEnvelopeFormat, err)
	}

	cipherKey, signKey := keyMaterial(licenseKey)
	expected := signEnvelope(signKey[:], env.Version, nonce, ciphertext)
	if !hmac.Equal(signature, expected) {
		return Payload{}, ErrEnvelopeSignature
	}

	block, err := aes.NewCipher(cipherKey[:])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrEnvelopeDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrEnvelopeDecrypt, err)
	}
	if len(nonce) != gcm.NonceSize() {
		return Payload{}, fmt.Errorf("%w: bad nonce length %d", ErrEnvelopeFormat, len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrEnvelopeDecrypt, err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: bad payload: %v", ErrEnvelopeFormat, err)
	}
	if payload.LicenseID == "" || payload.QuotaLimit < 0 {
		return Payload{}, fmt.Errorf("%w: missing license_id or negative quota", ErrEnvelopeFormat)
	}
	if _, err := payload.Expiry(); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// Seal encrypts and signs a payload into an envelope. Used by license
// issuance tooling and tests; the service itself only ever calls Open.
func Seal(payload Payload, licenseKey []byte) (Envelope, error) {
	if _, err := payload.Expiry(); err != nil {
		return Envelope{}, err
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	cipherKey, signKey := keyMaterial(licenseKey)
	block, err := aes.NewCipher(cipherKey[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	signature := signEnvelope(signKey[:], EnvelopeVersion, nonce, ciphertext)

	return Envelope{
		Version:       EnvelopeVersion,
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		SignatureHex:  hex.EncodeToString(signature),
	}, nil
}
