// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rin-protocol/continuum/services/gateway/datatypes"
)

// HandleStats serves the aggregate, content-free usage counters.
func HandleStats(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := d.Stats.Snapshot()
		c.JSON(http.StatusOK, datatypes.StatsResponse{
			TotalAnalyses:      s.TotalAnalyses,
			FreqTypeCounts:     s.FreqTypeCounts,
			DecisionCounts:     s.DecisionCounts,
			AvgFinalConfidence: s.AvgFinalConfidence,
		})
	}
}

// HandleOpsMetrics serves the operability report: decision distribution,
// latency percentiles, repair usage, and hit rates.
func HandleOpsMetrics(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := d.Stats.Snapshot()
		c.JSON(http.StatusOK, datatypes.OpsMetricsResponse{
			DecisionCounts: s.DecisionCounts,
			LatencyMillis: datatypes.LatencyPercentiles{
				P50: s.LatencyP50Millis,
				P95: s.LatencyP95Millis,
				P99: s.LatencyP99Millis,
			},
			RepairUsageRate:   s.RepairUsageRate,
			OutOfScopeHitRate: s.OutOfScopeHitRate,
			CacheHitRate:      s.CacheHitRate,
		})
	}
}
