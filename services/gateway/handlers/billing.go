// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rin-protocol/continuum/services/gateway/datatypes"
)

// HandleUsageSummary finalizes and returns the signed usage summary for a
// month. Without a month query parameter the current month is finalized;
// an already-finalized month returns its existing artifacts unchanged.
func HandleUsageSummary(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		month := c.Query("month")
		if month == "" {
			month = time.Now().UTC().Format("2006-01")
		}
		if _, err := time.Parse("2006-01", month); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "month must be YYYY-MM",
				Field: "month",
			})
			return
		}

		result, err := d.Ledger.Finalize(month)
		if err != nil {
			d.internalError(c, "usage summary finalize failed", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
