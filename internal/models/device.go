package models

import (
	"time"

	"gorm.io/gorm"
)

// Device represents a GPS tracking device in the registry. Only
// devices with Active set may authenticate; Online reflects whether a
// session is currently open for the IMEI.
type Device struct {
	ID            uint           `json:"id" gorm:"primarykey"`
	IMEI          string         `json:"imei" gorm:"uniqueIndex;not null;size:20" validate:"required"`
	CompanyID     *uint          `json:"company_id" gorm:"index"`
	Active        bool           `json:"active" gorm:"not null;default:true"`
	Online        bool           `json:"online" gorm:"not null;default:false"`
	LastSeen      *time.Time     `json:"last_seen"`
	LastHeartbeat *time.Time     `json:"last_heartbeat"`
	LastLogin     *time.Time     `json:"last_login"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for Device model
func (Device) TableName() string {
	return "devices"
}
