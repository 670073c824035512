package db

import (
	"github.com/friendsincode/skald/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the catalog schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Track{},
		&models.Playlist{},
		&models.PlaylistTrack{},
		&models.PlayHistory{},
	)
}
