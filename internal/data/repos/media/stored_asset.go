package media

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type StoredAssetRepo interface {
	// Upsert inserts or overwrites the row keyed by public_id and returns the stored row.
	// Identity fields are left alone; the identity-slot ledger owns them.
	Upsert(dbc dbctx.Context, row *types.StoredAsset) (*types.StoredAsset, error)

	GetByPublicID(dbc dbctx.Context, publicID string) (*types.StoredAsset, error)
	GetByIdentity(dbc dbctx.Context, agent string, slot int) (*types.StoredAsset, error)
	ListByAgent(dbc dbctx.Context, agent string) ([]*types.StoredAsset, error)

	SetIdentity(dbc dbctx.Context, publicID string, agent string, slot int) error
	ClearIdentity(dbc dbctx.Context, agent string, slot int) (int64, error)

	Count(dbc dbctx.Context) (int64, error)
}

type storedAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoredAssetRepo(db *gorm.DB, baseLog *logger.Logger) StoredAssetRepo {
	return &storedAssetRepo{db: db, log: baseLog.With("repo", "StoredAssetRepo")}
}

var upsertColumns = []string{
	"url",
	"resource_kind",
	"folder",
	"format",
	"byte_size",
	"width",
	"height",
	"is_visual_bible",
	"role",
	"confidence",
	"loop_key",
	"tags",
	"updated_at",
	"deleted_at",
}

func (r *storedAssetRepo) Upsert(dbc dbctx.Context, row *types.StoredAsset) (*types.StoredAsset, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil, errors.New("nil stored asset")
	}
	row.PublicID = strings.TrimSpace(row.PublicID)
	if row.PublicID == "" {
		return nil, errors.New("public_id required")
	}
	if row.Tags == nil {
		row.SetTags(nil)
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.DeletedAt = gorm.DeletedAt{}

	// Identity columns are omitted so a replayed upsert never re-anchors or clears a slot.
	if err := t.WithContext(dbc.Ctx).
		Omit("identity_agent", "identity_slot").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "public_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByPublicID(dbc, row.PublicID)
}

func (r *storedAssetRepo) GetByPublicID(dbc dbctx.Context, publicID string) (*types.StoredAsset, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, nil
	}
	var out types.StoredAsset
	err := t.WithContext(dbc.Ctx).Where("public_id = ?", publicID).Limit(1).Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.PublicID == "" {
		return nil, nil
	}
	return &out, nil
}

func (r *storedAssetRepo) GetByIdentity(dbc dbctx.Context, agent string, slot int) (*types.StoredAsset, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if agent == "" || slot == 0 {
		return nil, nil
	}
	var out types.StoredAsset
	err := t.WithContext(dbc.Ctx).
		Where("identity_agent = ? AND identity_slot = ?", agent, slot).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.PublicID == "" {
		return nil, nil
	}
	return &out, nil
}

func (r *storedAssetRepo) ListByAgent(dbc dbctx.Context, agent string) ([]*types.StoredAsset, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.StoredAsset
	if agent == "" {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("identity_agent = ?", agent).
		Order("identity_slot ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *storedAssetRepo) SetIdentity(dbc dbctx.Context, publicID string, agent string, slot int) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	res := t.WithContext(dbc.Ctx).
		Model(&types.StoredAsset{}).
		Where("public_id = ?", publicID).
		Updates(map[string]interface{}{
			"identity_agent": agent,
			"identity_slot":  slot,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearIdentity strips the slot fields from whichever row holds (agent, slot).
func (r *storedAssetRepo) ClearIdentity(dbc dbctx.Context, agent string, slot int) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	res := t.WithContext(dbc.Ctx).
		Model(&types.StoredAsset{}).
		Where("identity_agent = ? AND identity_slot = ?", agent, slot).
		Updates(map[string]interface{}{
			"identity_agent": nil,
			"identity_slot":  nil,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *storedAssetRepo) Count(dbc dbctx.Context) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var n int64
	err := t.WithContext(dbc.Ctx).Model(&types.StoredAsset{}).Count(&n).Error
	return n, err
}
