package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs AutoMigrate for the given models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	zap.L().Info("[DB] Database migration completed", zap.Int("tables", len(models)))
	return nil
}
