// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers of the gateway. Handlers
// are factory functions taking their dependencies explicitly and
// returning gin.HandlerFunc.
package handlers

import (
	"log/slog"

	"github.com/rin-protocol/continuum/services/evidence"
	"github.com/rin-protocol/continuum/services/gateway/observability"
	"github.com/rin-protocol/continuum/services/ledger"
	"github.com/rin-protocol/continuum/services/license"
	"github.com/rin-protocol/continuum/services/pipeline"
	"github.com/rin-protocol/continuum/services/reqcache"
)

// Deps bundles the shared service state handed to handler factories. It
// is the owned context object for process-wide mutable state: all
// mutation goes through the synchronized accessors of its fields.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Cache    *reqcache.Cache
	Evidence *evidence.Store
	Ledger   *ledger.Ledger
	Guard    *license.Guard
	Stats    *observability.Aggregator
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// Version is the service release marker reported on / and recorded
	// in evidence.
	Version string
}
