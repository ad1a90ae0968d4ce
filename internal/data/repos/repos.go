package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/data/repos/media"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type StoredAssetRepo = media.StoredAssetRepo
type IdentitySlotRepo = media.IdentitySlotRepo

type Repos struct {
	StoredAssets  StoredAssetRepo
	IdentitySlots IdentitySlotRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		StoredAssets:  media.NewStoredAssetRepo(db, log),
		IdentitySlots: media.NewIdentitySlotRepo(db, log),
	}
}
