package models

import (
	"time"

	"gorm.io/gorm"
)

// AlertKind classifies alarm events reported by devices
type AlertKind string

const (
	AlertSOS       AlertKind = "sos"
	AlertPowerCut  AlertKind = "power_cut"
	AlertVibration AlertKind = "vibration"
	AlertFenceIn   AlertKind = "fence_in"
	AlertFenceOut  AlertKind = "fence_out"
	AlertOverSpeed AlertKind = "over_speed"
	AlertNormal    AlertKind = "normal"
	AlertOther     AlertKind = "other"
)

// Alert represents an alarm event raised by a device
type Alert struct {
	ID          uint       `json:"id" gorm:"primarykey"`
	DeviceID    uint       `json:"device_id" gorm:"not null;index"`
	Kind        AlertKind  `json:"alert_kind" gorm:"type:varchar(20);not null"`
	Message     string     `json:"message"`
	Latitude    *float64   `json:"latitude" gorm:"type:decimal(12,8)"`
	Longitude   *float64   `json:"longitude" gorm:"type:decimal(12,8)"`
	TriggeredAt time.Time  `json:"triggered_at" gorm:"not null;index"`
	Raw         string     `json:"raw"`
	Resolved    bool       `json:"resolved" gorm:"not null;default:false"`
	CreatedAt   time.Time  `json:"created_at"`

	Device Device `json:"device,omitempty" gorm:"foreignKey:DeviceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName specifies the table name for Alert model
func (Alert) TableName() string {
	return "alerts"
}

// BeforeCreate hook defaults TriggeredAt to receipt time
func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now()
	}
	return nil
}
