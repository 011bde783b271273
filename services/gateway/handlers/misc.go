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

// HandleRoot serves the service banner.
func HandleRoot(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.RootResponse{
			Service: "continuum",
			Version: d.Version,
			Status:  "running",
		})
	}
}

// HandleHealth reports liveness. Always available, including while the
// license guard is in a stop-enforced invalid state.
func HandleHealth(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if d.Guard != nil {
			body["license_state"] = string(d.Guard.State().Status)
		}
		c.JSON(http.StatusOK, body)
	}
}
