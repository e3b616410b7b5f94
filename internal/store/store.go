package store

import (
	"errors"
	"fmt"
	"time"

	"tracker_gateway/internal/models"

	"gorm.io/gorm"
)

// ErrDeviceNotFound is returned when an IMEI has no registry row
var ErrDeviceNotFound = errors.New("store: device not found")

// Store is the typed adapter over the spatial relational store. All
// gateway components go through it rather than touching gorm directly.
type Store struct {
	db *gorm.DB
}

// New creates a store adapter over an open gorm handle
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetDeviceByIMEI looks a device up by its identity string
func (s *Store) GetDeviceByIMEI(imei string) (*models.Device, error) {
	var device models.Device
	err := s.db.Where("imei = ?", imei).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// SaveLocation persists a position report and stamps its spatial point
func (s *Store) SaveLocation(loc *models.Location) error {
	if !loc.IsValidLocation() {
		return fmt.Errorf("store: coordinates out of range (%.6f, %.6f)", loc.Latitude, loc.Longitude)
	}
	if err := s.db.Create(loc).Error; err != nil {
		return err
	}
	return s.db.Exec(
		"UPDATE locations SET geom = ST_SetSRID(ST_MakePoint(?, ?), 4326) WHERE id = ?",
		loc.Longitude, loc.Latitude, loc.ID,
	).Error
}

// SaveAlert persists an alarm event, with its spatial point when the
// frame carried coordinates.
func (s *Store) SaveAlert(alert *models.Alert) error {
	if err := s.db.Create(alert).Error; err != nil {
		return err
	}
	if alert.Latitude == nil || alert.Longitude == nil {
		return nil
	}
	return s.db.Exec(
		"UPDATE alerts SET geom = ST_SetSRID(ST_MakePoint(?, ?), 4326) WHERE id = ?",
		*alert.Longitude, *alert.Latitude, alert.ID,
	).Error
}

// CreateCommand inserts a new pending command row
func (s *Store) CreateCommand(cmd *models.Command) error {
	if cmd.Status == "" {
		cmd.Status = models.CommandPending
	}
	return s.db.Create(cmd).Error
}

// UpdateCommandStatus moves a command through its state machine. The
// WHERE clause only matches rows whose current status may legally
// transition to the new one, so a replayed delivery can never knock a
// command out of a terminal state.
func (s *Store) UpdateCommandStatus(id string, status models.CommandStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}

	var from []models.CommandStatus
	switch status {
	case models.CommandSent:
		from = []models.CommandStatus{models.CommandPending}
	case models.CommandAcknowledged:
		from = []models.CommandStatus{models.CommandSent}
	case models.CommandFailed:
		from = []models.CommandStatus{models.CommandPending, models.CommandSent}
	default:
		return fmt.Errorf("store: invalid command status %q", status)
	}

	res := s.db.Model(&models.Command{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Already terminal or unknown id; idempotent replays land here.
		var current models.Command
		if err := s.db.Select("status").Where("id = ?", id).First(&current).Error; err != nil {
			return fmt.Errorf("store: command %s not found", id)
		}
	}
	return nil
}

// GetCommandByID loads one command row
func (s *Store) GetCommandByID(id string, out *models.Command) error {
	err := s.db.Where("id = ?", id).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("store: command %s not found", id)
	}
	return err
}

// LatestSentCommand returns the newest command in the sent state for a
// device, used to correlate terminal responses that carry no id.
func (s *Store) LatestSentCommand(deviceID uint) (*models.Command, error) {
	var cmd models.Command
	err := s.db.Where("device_id = ? AND status = ?", deviceID, models.CommandSent).
		Order("sent_at DESC").
		First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// SetOnline flips a device's online flag
func (s *Store) SetOnline(imei string, online bool) error {
	updates := map[string]interface{}{"online": online}
	if online {
		updates["last_seen"] = time.Now()
	}
	return s.db.Model(&models.Device{}).Where("imei = ?", imei).Updates(updates).Error
}

// TouchHeartbeat records heartbeat activity; implies online
func (s *Store) TouchHeartbeat(imei string) error {
	now := time.Now()
	return s.db.Model(&models.Device{}).Where("imei = ?", imei).Updates(map[string]interface{}{
		"online":         true,
		"last_seen":      now,
		"last_heartbeat": now,
	}).Error
}

// TouchLogin records login activity; implies online
func (s *Store) TouchLogin(imei string) error {
	now := time.Now()
	return s.db.Model(&models.Device{}).Where("imei = ?", imei).Updates(map[string]interface{}{
		"online":     true,
		"last_seen":  now,
		"last_login": now,
	}).Error
}

// TouchSeen bumps the activity clock; implies online
func (s *Store) TouchSeen(imei string) error {
	return s.db.Model(&models.Device{}).Where("imei = ?", imei).Updates(map[string]interface{}{
		"online":    true,
		"last_seen": time.Now(),
	}).Error
}

// GetLastLocation returns the most recent position for a device
func (s *Store) GetLastLocation(deviceID uint) (*models.Location, error) {
	var loc models.Location
	err := s.db.Where("device_id = ?", deviceID).
		Order("recorded_at DESC").
		First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// GetLocationHistory returns positions for a device inside [from, to],
// newest first, capped at limit.
func (s *Store) GetLocationHistory(deviceID uint, from, to time.Time, limit int) ([]models.Location, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var locs []models.Location
	q := s.db.Where("device_id = ?", deviceID)
	if !from.IsZero() {
		q = q.Where("recorded_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("recorded_at <= ?", to)
	}
	err := q.Order("recorded_at DESC").Limit(limit).Find(&locs).Error
	return locs, err
}

// NearbyLocation is one row of a radius query
type NearbyLocation struct {
	models.Location
	DistanceKM float64 `json:"distance_km"`
}

// GetNearby returns the latest known positions within radiusKM of the
// given point, by great-circle distance on the geography cast.
func (s *Store) GetNearby(lat, lon, radiusKM float64) ([]NearbyLocation, error) {
	var rows []NearbyLocation
	err := s.db.Raw(`
		SELECT DISTINCT ON (device_id) *,
			ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) / 1000 AS distance_km
		FROM locations
		WHERE geom IS NOT NULL
			AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ORDER BY device_id, recorded_at DESC
	`, lon, lat, lon, lat, radiusKM*1000).Scan(&rows).Error
	return rows, err
}

// SystemStats is the aggregate snapshot for the stats endpoint
type SystemStats struct {
	TotalDevices     int64 `json:"total_devices"`
	OnlineDevices    int64 `json:"online_devices"`
	TotalLocations   int64 `json:"total_locations"`
	UnresolvedAlerts int64 `json:"unresolved_alerts"`
	PendingCommands  int64 `json:"pending_commands"`
}

// GetSystemStats collects row counts across the schema
func (s *Store) GetSystemStats() (*SystemStats, error) {
	var stats SystemStats
	if err := s.db.Model(&models.Device{}).Count(&stats.TotalDevices).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Device{}).Where("online = ?", true).Count(&stats.OnlineDevices).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Location{}).Count(&stats.TotalLocations).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Alert{}).Where("resolved = ?", false).Count(&stats.UnresolvedAlerts).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Command{}).Where("status = ?", models.CommandPending).Count(&stats.PendingCommands).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListDevices returns all registered devices
func (s *Store) ListDevices() ([]models.Device, error) {
	var devices []models.Device
	err := s.db.Order("imei").Find(&devices).Error
	return devices, err
}
