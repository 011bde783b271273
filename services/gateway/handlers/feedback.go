// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rin-protocol/continuum/services/evidence"
	"github.com/rin-protocol/continuum/services/gateway/datatypes"
)

// HandleFeedback records caller ratings for a prior decision. The stored
// event holds ratings and the referenced log id only, never content.
func HandleFeedback(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "invalid feedback body",
			})
			return
		}

		if _, err := d.Evidence.Get(c.Request.Context(), req.LogID); err != nil {
			if errors.Is(err, evidence.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
					Error: "unknown log_id",
					Field: "log_id",
				})
				return
			}
			d.internalError(c, "feedback lookup failed", err)
			return
		}

		rec := evidence.Record{
			"record_id":  uuid.NewString(),
			"kind":       "feedback",
			"log_id":     req.LogID,
			"accuracy":   req.Accuracy,
			"helpful":    req.Helpful,
			"accepted":   req.Accepted,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		}
		if err := d.Evidence.Append(c.Request.Context(), evidence.Scrub(rec)); err != nil {
			d.internalError(c, "feedback append failed", err)
			return
		}

		d.Ledger.RecordFeedback()
		d.Logger.Info("feedback recorded",
			"log_id", req.LogID,
			"accuracy", req.Accuracy,
			"helpful", req.Helpful,
			"accepted", req.Accepted,
		)

		c.JSON(http.StatusOK, datatypes.FeedbackResponse{
			Status: "recorded",
			LogID:  req.LogID,
		})
	}
}
