package db

import (
	"fmt"

	"tracker_gateway/internal/models"
	"tracker_gateway/pkg/colors"

	"gorm.io/gorm"
)

// RunMigrations creates the schema and the spatial columns
func RunMigrations() error {
	colors.PrintSubHeader("Running database migrations")

	// Base tables first, then tables with foreign keys
	if err := DB.AutoMigrate(&models.Device{}); err != nil {
		return fmt.Errorf("device table migration failed: %v", err)
	}
	colors.PrintSuccess("Devices table ready")

	if err := DB.AutoMigrate(&models.Location{}); err != nil {
		return fmt.Errorf("location table migration failed: %v", err)
	}
	colors.PrintSuccess("Locations table ready")

	if err := DB.AutoMigrate(&models.Alert{}); err != nil {
		return fmt.Errorf("alert table migration failed: %v", err)
	}
	colors.PrintSuccess("Alerts table ready")

	if err := DB.AutoMigrate(&models.Command{}); err != nil {
		return fmt.Errorf("command table migration failed: %v", err)
	}
	colors.PrintSuccess("Commands table ready")

	if err := addGeometryColumns(DB); err != nil {
		return fmt.Errorf("failed to add spatial columns: %v", err)
	}
	colors.PrintSuccess("Spatial columns ready")

	return nil
}

// addGeometryColumns adds WGS84 point columns and spatial indexes to
// the locations and alerts tables. PostGIS must be installed on the
// target database.
func addGeometryColumns(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		colors.PrintWarning("Could not ensure postgis extension (may need superuser): %v", err)
	}

	for _, table := range []string{"locations", "alerts"} {
		var exists int64
		db.Raw(`
			SELECT COUNT(*)
			FROM information_schema.columns
			WHERE table_name = ? AND column_name = 'geom'
		`, table).Count(&exists)

		if exists == 0 {
			if err := db.Exec(fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN geom geometry(Point, 4326)", table)).Error; err != nil {
				return err
			}
			if err := db.Exec(fmt.Sprintf(
				"CREATE INDEX idx_%s_geom ON %s USING GIST (geom)", table, table)).Error; err != nil {
				colors.PrintWarning("Could not create geom index on %s (might already exist): %v", table, err)
			}
		}
	}

	return nil
}
