package models

import (
	"time"

	"gorm.io/gorm"
)

// Location represents one decoded position report. The geom column is
// a WGS84 point maintained by the store from (lon, lat); gorm never
// writes it directly.
type Location struct {
	ID             uint       `json:"id" gorm:"primarykey"`
	DeviceID       uint       `json:"device_id" gorm:"not null;index"`
	Latitude       float64    `json:"latitude" gorm:"type:decimal(12,8);not null"`
	Longitude      float64    `json:"longitude" gorm:"type:decimal(12,8);not null"`
	Speed          *float64   `json:"speed"`  // km/h
	Course         *float64   `json:"course"` // degrees (0-360)
	Altitude       *int       `json:"altitude"`
	RecordedAt     time.Time  `json:"recorded_at" gorm:"not null;index"`
	Satellites     *int       `json:"satellites"`
	HDOP           *float64   `json:"hdop"`
	BatteryLevel   *int       `json:"battery_level"`
	SignalStrength *int       `json:"signal_strength"`
	Raw            string     `json:"raw"`
	CreatedAt      time.Time  `json:"created_at"`

	Device Device `json:"device,omitempty" gorm:"foreignKey:DeviceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName specifies the table name for Location model
func (Location) TableName() string {
	return "locations"
}

// BeforeCreate hook defaults RecordedAt to receipt time when the frame
// carried no timestamp.
func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.RecordedAt.IsZero() {
		l.RecordedAt = time.Now()
	}
	return nil
}

// IsValidLocation checks if GPS coordinates are within WGS84 bounds
func (l *Location) IsValidLocation() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}
