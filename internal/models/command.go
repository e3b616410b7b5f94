package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CommandKind enumerates the supported outbound commands
type CommandKind string

const (
	CommandLocate       CommandKind = "locate"
	CommandReboot       CommandKind = "reboot"
	CommandEngineStop   CommandKind = "engine_stop"
	CommandEngineResume CommandKind = "engine_resume"
	CommandRaw          CommandKind = "raw"
)

// CommandStatus is the delivery state of a command. Transitions are
// monotonic: pending -> sent -> acknowledged, with failed reachable
// from pending or sent. acknowledged and failed are terminal.
type CommandStatus string

const (
	CommandPending      CommandStatus = "pending"
	CommandSent         CommandStatus = "sent"
	CommandAcknowledged CommandStatus = "acknowledged"
	CommandFailed       CommandStatus = "failed"
)

// Command represents one queued command for a device
type Command struct {
	ID        string         `json:"id" gorm:"primarykey;size:36"`
	DeviceID  uint           `json:"device_id" gorm:"not null;index"`
	Kind      CommandKind    `json:"kind" gorm:"type:varchar(20);not null"`
	Payload   datatypes.JSON `json:"payload"`
	Status    CommandStatus  `json:"status" gorm:"type:varchar(15);not null;default:'pending';index"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at"`
	AckAt     *time.Time     `json:"ack_at"`
	FailedAt  *time.Time     `json:"failed_at"`
	Response  string         `json:"response"`
	Error     string         `json:"error"`

	Device Device `json:"device,omitempty" gorm:"foreignKey:DeviceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName specifies the table name for Command model
func (Command) TableName() string {
	return "commands"
}

// BeforeCreate hook assigns an id when the producer did not
func (c *Command) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// Terminal reports whether the status admits no further transitions
func (s CommandStatus) Terminal() bool {
	return s == CommandAcknowledged || s == CommandFailed
}

// CanTransitionTo reports whether moving from s to next respects the
// command state machine.
func (s CommandStatus) CanTransitionTo(next CommandStatus) bool {
	switch s {
	case CommandPending:
		return next == CommandSent || next == CommandFailed
	case CommandSent:
		return next == CommandAcknowledged || next == CommandFailed
	default:
		return false
	}
}
