// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repair wraps the external Repair Executor: the collaborator that
// turns a flagged text into a softened rewrite.
//
// The executor is treated as an untrusted, possibly slow dependency. Every
// call is bounded by a timeout and paced by a client-side rate limiter,
// and callers are expected to fall back to the deterministic local
// substitution path on any failure. A repair failure is a recoverable,
// local condition and must never surface as an API error.
package repair

import (
	"context"
	"errors"
	"fmt"
)

// ErrExecutor is the sentinel wrapped by every executor failure, timeout
// included. Callers test with errors.Is.
var ErrExecutor = errors.New("repair executor failure")

// Executor produces a rewritten text for a flagged input.
//
// Implementations must honor ctx cancellation and deadlines. The returned
// text must be non-empty on success.
type Executor interface {
	// Repair rewrites text given the detected tone category and the
	// routing scenario. freqType and scenario are plain labels, never
	// interpreted by implementations beyond prompt construction.
	Repair(ctx context.Context, text, freqType, scenario string) (string, error)
}

// wrapErr tags an underlying failure with the ErrExecutor sentinel.
func wrapErr(err error) error {
	return fmt.Errorf("%w: %v", ErrExecutor, err)
}
