package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/domain/media"
)

// Tables lists the catalog tables in migration order.
var Tables = []string{
	media.StoredAsset{}.TableName(),
	media.IdentitySlot{}.TableName(),
}

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&media.StoredAsset{},
		&media.IdentitySlot{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
