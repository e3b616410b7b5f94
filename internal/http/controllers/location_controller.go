package controllers

import (
	"net/http"
	"strconv"

	"tracker_gateway/internal/store"

	"github.com/gin-gonic/gin"
)

// LocationController serves the spatial query and stats endpoints
type LocationController struct {
	store *store.Store
}

// NewLocationController creates a location controller
func NewLocationController(st *store.Store) *LocationController {
	return &LocationController{store: st}
}

// GetNearby returns the latest device positions within a radius of a
// point, by great-circle distance.
func (lc *LocationController) GetNearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "lat and lon are required"})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if err != nil || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid radius_km"})
		return
	}

	rows, err := lc.store.GetNearby(lat, lon, radius)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "locations": rows, "total_count": len(rows)})
}

// GetStats returns the aggregate system snapshot
func (lc *LocationController) GetStats(c *gin.Context) {
	stats, err := lc.store.GetSystemStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
