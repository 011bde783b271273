// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rin-protocol/continuum/pkg/ratelimit"
	"github.com/rin-protocol/continuum/services/gateway/handlers"
	"github.com/rin-protocol/continuum/services/gateway/middleware"
)

// SetupRoutes wires every endpoint. Health, the service banner, and the
// Prometheus scrape endpoint sit outside the rate limiter so operability
// survives a misbehaving caller and a stop-enforced license state.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, limiter *ratelimit.Limiter) {
	router.Use(middleware.RequestID())

	router.GET("/", handlers.HandleRoot(deps))
	router.GET("/health", handlers.HandleHealth(deps))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter, deps.Metrics, deps.Logger))
	{
		v1.POST("/analyze", handlers.HandleAnalyze(deps))
		v1.POST("/feedback", handlers.HandleFeedback(deps))
		v1.GET("/stats", handlers.HandleStats(deps))
		v1.GET("/ops/metrics", handlers.HandleOpsMetrics(deps))
		v1.POST("/billing/usage-summary", handlers.HandleUsageSummary(deps))
	}
}
