package controllers

import (
	"net/http"
	"strconv"
	"time"

	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"

	"github.com/gin-gonic/gin"
)

// DeviceController serves device and location read endpoints
type DeviceController struct {
	store    *store.Store
	registry *registry.Registry
}

// NewDeviceController creates a device controller
func NewDeviceController(st *store.Store, reg *registry.Registry) *DeviceController {
	return &DeviceController{store: st, registry: reg}
}

// ListDevices returns all registered devices
func (dc *DeviceController) ListDevices(c *gin.Context) {
	devices, err := dc.store.ListDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "devices": devices, "total_count": len(devices)})
}

// GetDevice returns one device with its live session state
func (dc *DeviceController) GetDevice(c *gin.Context) {
	device, err := dc.store.GetDeviceByIMEI(c.Param("imei"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Device not found"})
		return
	}

	_, connected := dc.registry.Lookup(device.IMEI)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"device":    device,
		"connected": connected,
	})
}

// GetLastLocation returns the most recent position for a device
func (dc *DeviceController) GetLastLocation(c *gin.Context) {
	device, err := dc.store.GetDeviceByIMEI(c.Param("imei"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Device not found"})
		return
	}

	loc, err := dc.store.GetLastLocation(device.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No location recorded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "location": loc})
}

// GetLocationHistory returns positions in a time window
func (dc *DeviceController) GetLocationHistory(c *gin.Context) {
	device, err := dc.store.GetDeviceByIMEI(c.Param("imei"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Device not found"})
		return
	}

	var from, to time.Time
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid from timestamp"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid to timestamp"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	locs, err := dc.store.GetLocationHistory(device.ID, from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "locations": locs, "total_count": len(locs)})
}

// GetActiveDevices lists the devices with live sessions
func (dc *DeviceController) GetActiveDevices(c *gin.Context) {
	imeis := dc.registry.ActiveIMEIs()
	active := make([]gin.H, 0, len(imeis))
	for _, imei := range imeis {
		entry := gin.H{"imei": imei}
		if st, ok := dc.registry.Status(imei); ok {
			entry["last_seen"] = st.LastSeen
			entry["last_heartbeat"] = st.LastHeartbeat
		}
		active = append(active, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"active_devices": active,
		"total_count":    len(active),
	})
}
