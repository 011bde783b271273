// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the gin middleware of the gateway: request
// correlation IDs and per-caller rate limiting.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rin-protocol/continuum/pkg/ratelimit"
	"github.com/rin-protocol/continuum/services/gateway/observability"
)

// RequestIDKey is the gin context key holding the request correlation ID.
const RequestIDKey = "request_id"

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a correlation ID to each request, honoring one the
// caller already supplied.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RateLimit rejects excess requests per caller IP before they reach the
// pipeline. Deterministic: the limiter decides from its window state
// alone, and denied requests receive 429 with a Retry-After header.
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.ClientIP()
		decision := limiter.Allow(caller)
		if !decision.Allowed {
			if metrics != nil {
				metrics.RateLimitedTotal.Inc()
			}
			logger.Warn("rate limit exceeded",
				slog.String("caller", caller),
				slog.String("path", c.FullPath()))
			c.Header("Retry-After", decision.RetryAfter.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
