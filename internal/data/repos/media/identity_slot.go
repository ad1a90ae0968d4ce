package media

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type IdentitySlotRepo interface {
	Get(dbc dbctx.Context, agent string, slot int) (*types.IdentitySlot, error)
	Put(dbc dbctx.Context, agent string, slot int, publicID string) error
	Delete(dbc dbctx.Context, agent string, slot int) error
	// Release deletes the row only while publicID still holds it.
	Release(dbc dbctx.Context, agent string, slot int, publicID string) (bool, error)
	ListByAgent(dbc dbctx.Context, agent string) ([]*types.IdentitySlot, error)
}

type identitySlotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentitySlotRepo(db *gorm.DB, baseLog *logger.Logger) IdentitySlotRepo {
	return &identitySlotRepo{db: db, log: baseLog.With("repo", "IdentitySlotRepo")}
}

func (r *identitySlotRepo) Get(dbc dbctx.Context, agent string, slot int) (*types.IdentitySlot, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out types.IdentitySlot
	err := t.WithContext(dbc.Ctx).
		Where("agent = ? AND slot = ?", agent, slot).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.Agent == "" {
		return nil, nil
	}
	return &out, nil
}

func (r *identitySlotRepo) Put(dbc dbctx.Context, agent string, slot int, publicID string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	now := time.Now().UTC()
	row := &types.IdentitySlot{Agent: agent, Slot: slot, PublicID: publicID, CreatedAt: now, UpdatedAt: now}
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent"}, {Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"public_id", "updated_at"}),
		}).
		Create(row).Error
}

func (r *identitySlotRepo) Delete(dbc dbctx.Context, agent string, slot int) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Where("agent = ? AND slot = ?", agent, slot).
		Delete(&types.IdentitySlot{}).Error
}

func (r *identitySlotRepo) Release(dbc dbctx.Context, agent string, slot int, publicID string) (bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	res := t.WithContext(dbc.Ctx).
		Where("agent = ? AND slot = ? AND public_id = ?", agent, slot, publicID).
		Delete(&types.IdentitySlot{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *identitySlotRepo) ListByAgent(dbc dbctx.Context, agent string) ([]*types.IdentitySlot, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.IdentitySlot
	if err := t.WithContext(dbc.Ctx).
		Where("agent = ?", agent).
		Order("slot ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
