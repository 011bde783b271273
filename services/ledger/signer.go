// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SignatureVerificationError reports a summary whose signature does not
// match its body. Relevant to offline reconciliation only, never to the
// live pipeline.
type SignatureVerificationError struct {
	Path string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("ledger: signature verification failed for %s", e.Path)
}

// artifactPaths returns the summary and signature file paths for a month.
func (l *Ledger) artifactPaths(month string) (summaryPath, sigPath string) {
	summaryPath = filepath.Join(l.dir, month+".summary.json")
	sigPath = filepath.Join(l.dir, month+".summary.sig")
	return summaryPath, sigPath
}

// canonicalBytes is the serialization the signature covers: compact JSON
// with the struct's fixed field order. The bytes written to the summary
// file are exactly these bytes, so the signature covers the file verbatim.
func canonicalBytes(s UsageSummary) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal summary: %w", err)
	}
	return data, nil
}

// Sign computes the hex HMAC-SHA256 of a summary under the given key.
func Sign(s UsageSummary, key []byte) (string, error) {
	body, err := canonicalBytes(s)
	if err != nil {
		return "", err
	}
	return signBytes(body, key), nil
}

func signBytes(body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// write persists the summary and its signature atomically enough for a
// single-writer process: summary first, then signature.
func (l *Ledger) write(summary UsageSummary, summaryPath, sigPath string) (*FinalizeResult, error) {
	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return nil, fmt.Errorf("ledger: create output directory %s: %w", l.dir, err)
	}

	body, err := canonicalBytes(summary)
	if err != nil {
		return nil, err
	}
	digest := signBytes(body, l.key)

	if err := os.WriteFile(summaryPath, body, 0640); err != nil {
		return nil, fmt.Errorf("ledger: write summary %s: %w", summaryPath, err)
	}
	if err := os.WriteFile(sigPath, []byte(digest+"\n"), 0640); err != nil {
		return nil, fmt.Errorf("ledger: write signature %s: %w", sigPath, err)
	}

	return &FinalizeResult{
		Summary:       summary,
		SummaryPath:   summaryPath,
		SignaturePath: sigPath,
		Digest:        digest,
	}, nil
}

// loadExisting returns an already-finalized month's artifacts after
// verifying the signature still matches the body on disk.
func (l *Ledger) loadExisting(month, summaryPath, sigPath string) (*FinalizeResult, error) {
	body, err := os.ReadFile(summaryPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: read summary %s: %w", summaryPath, err)
	}
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: read signature %s: %w", sigPath, err)
	}
	digest := strings.TrimSpace(string(sigData))

	if !hmac.Equal([]byte(signBytes(body, l.key)), []byte(digest)) {
		return nil, &SignatureVerificationError{Path: summaryPath}
	}

	var summary UsageSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("ledger: decode summary %s: %w", summaryPath, err)
	}
	if summary.Month != month {
		return nil, fmt.Errorf("ledger: summary %s holds month %q", summaryPath, summary.Month)
	}

	result := &FinalizeResult{
		Summary:       summary,
		SummaryPath:   summaryPath,
		SignaturePath: sigPath,
		Digest:        digest,
		Existing:      true,
	}
	return result, nil
}

// Verify checks the on-disk artifacts for a month against a key. Used by
// the offline reconciliation command. Returns *SignatureVerificationError
// when the body and signature disagree.
func Verify(dir, month string, key []byte) (*UsageSummary, error) {
	summaryPath := filepath.Join(dir, month+".summary.json")
	sigPath := filepath.Join(dir, month+".summary.sig")

	body, err := os.ReadFile(summaryPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: read summary %s: %w", summaryPath, err)
	}
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: read signature %s: %w", sigPath, err)
	}
	digest := strings.TrimSpace(string(sigData))

	if !hmac.Equal([]byte(signBytes(body, key)), []byte(digest)) {
		return nil, &SignatureVerificationError{Path: summaryPath}
	}

	var summary UsageSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("ledger: decode summary %s: %w", summaryPath, err)
	}
	return &summary, nil
}
