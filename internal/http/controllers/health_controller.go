package controllers

import (
	"net/http"
	"time"

	"tracker_gateway/internal/registry"

	"github.com/gin-gonic/gin"
)

// HealthController serves the liveness endpoint
type HealthController struct {
	registry *registry.Registry
	started  time.Time
}

// NewHealthController creates a health controller
func NewHealthController(reg *registry.Registry) *HealthController {
	return &HealthController{registry: reg, started: time.Now()}
}

// Health reports process liveness and session count
func (hc *HealthController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime_seconds":  int(time.Since(hc.started).Seconds()),
		"active_sessions": hc.registry.Count(),
	})
}
