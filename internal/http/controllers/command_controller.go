package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/models"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CommandController is the command-producer side: it records a pending
// command row and enqueues it for the dispatcher.
type CommandController struct {
	store     *store.Store
	publisher *broker.Publisher
}

// NewCommandController creates a command controller
func NewCommandController(st *store.Store, pub *broker.Publisher) *CommandController {
	return &CommandController{store: st, publisher: pub}
}

// CommandRequest is the POST body for creating a command
type CommandRequest struct {
	Command    string                 `json:"command" binding:"required"`
	Parameters map[string]interface{} `json:"parameters"`
}

// CreateCommand records and enqueues a command for a device
func (cc *CommandController) CreateCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format", "message": err.Error()})
		return
	}

	device, err := cc.store.GetDeviceByIMEI(c.Param("imei"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Device not found"})
		return
	}

	payload, err := json.Marshal(req.Parameters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid parameters"})
		return
	}

	cmd := &models.Command{
		ID:       uuid.New().String(),
		DeviceID: device.ID,
		Kind:     models.CommandKind(req.Command),
		Payload:  datatypes.JSON(payload),
		Status:   models.CommandPending,
	}
	if err := cc.store.CreateCommand(cmd); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	err = cc.publisher.PublishCommand(ctx, gin.H{
		"commandId":  cmd.ID,
		"device_id":  device.ID,
		"imei":       device.IMEI,
		"command":    req.Command,
		"parameters": req.Parameters,
	})
	if err != nil {
		colors.PrintError("Failed to enqueue command %s: %v", cmd.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to enqueue command"})
		return
	}

	colors.PrintCommand("Command %s (%s) queued for %s", cmd.ID, req.Command, device.IMEI)
	c.JSON(http.StatusAccepted, gin.H{"success": true, "command": cmd})
}

// GetCommand returns the current state of a command row
func (cc *CommandController) GetCommand(c *gin.Context) {
	var cmd models.Command
	// Command rows are read through the store's gorm handle; status is
	// the observable outcome of the dispatch path.
	if err := cc.store.GetCommandByID(c.Param("id"), &cmd); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Command not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "command": cmd})
}
