// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers exposes the read-only observability surface.
//
// The HTTP surface is for operators and external collaborators; it
// never mutates lifecycle state. Soul writes and flag setters stay
// in-process.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes registers the lifecycle routes under the group.
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers) {
	group := v1.Group("/lifecycle")
	group.GET("/state", h.GetState)
	group.GET("/capacity", h.GetCapacity)
	group.GET("/context", h.GetContext)
	group.GET("/events", h.GetEvents)
	group.GET("/activity", h.GetActivity)
}

// RegisterRoot registers the health and metrics endpoints.
func RegisterRoot(router *gin.Engine, h *Handlers) {
	router.GET("/healthz", h.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		h.svc.Metrics().Registry(), promhttp.HandlerOpts{})))
}

// GetHealth reports liveness.
func (h *Handlers) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetState returns the current lifecycle snapshot.
func (h *Handlers) GetState(c *gin.Context) {
	st, err := h.svc.LoadState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetCapacity returns the capacity vector.
func (h *Handlers) GetCapacity(c *gin.Context) {
	vector, err := h.svc.ComputeCapacityVector(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, vector)
}

// GetContext returns the rendered lifecycle prompt block.
func (h *Handlers) GetContext(c *gin.Context) {
	block, err := h.svc.BuildLifecycleContext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": block})
}

// GetEvents returns the lifecycle event log.
func (h *Handlers) GetEvents(c *gin.Context) {
	events, err := h.svc.Store().ListLifecycleEvents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetActivity returns the newest activity events.
func (h *Handlers) GetActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events, err := h.svc.Narrative().Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
