package media

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StoredAsset struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PublicID      string         `gorm:"column:public_id;not null;uniqueIndex" json:"public_id"`
	URL           string         `gorm:"column:url" json:"url"`
	ResourceKind  string         `gorm:"column:resource_kind;not null;index" json:"resource_kind"`
	Folder        string         `gorm:"column:folder;index" json:"folder"`
	Format        string         `gorm:"column:format" json:"format"`
	ByteSize      int64          `gorm:"column:byte_size" json:"byte_size"`
	Width         *int           `gorm:"column:width" json:"width,omitempty"`
	Height        *int           `gorm:"column:height" json:"height,omitempty"`
	IsVisualBible bool           `gorm:"column:is_visual_bible;not null;default:false;index" json:"is_visual_bible"`
	IdentityAgent *string        `gorm:"column:identity_agent;uniqueIndex:idx_stored_asset_identity" json:"identity_agent,omitempty"`
	IdentitySlot  *int           `gorm:"column:identity_slot;uniqueIndex:idx_stored_asset_identity" json:"identity_slot,omitempty"`
	Role          string         `gorm:"column:role" json:"role,omitempty"`
	Confidence    float64        `gorm:"column:confidence" json:"confidence"`
	LoopKey       string         `gorm:"column:loop_key" json:"loop_key,omitempty"`
	Tags          datatypes.JSON `gorm:"column:tags" json:"tags"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (StoredAsset) TableName() string { return "stored_asset" }

func (a *StoredAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *StoredAsset) TagList() []string {
	if a == nil || len(a.Tags) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(a.Tags, &out); err != nil {
		return nil
	}
	return out
}

func (a *StoredAsset) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	a.Tags = datatypes.JSON(raw)
}

func (a *StoredAsset) HasIdentity() bool {
	return a != nil && a.IdentityAgent != nil && a.IdentitySlot != nil
}

// IdentitySlot is one row of the identity-slot ledger: the asset anchoring (agent, slot).
type IdentitySlot struct {
	Agent    string `gorm:"column:agent;primaryKey" json:"agent"`
	Slot     int    `gorm:"column:slot;primaryKey;autoIncrement:false" json:"slot"`
	PublicID string `gorm:"column:public_id;not null;index" json:"public_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (IdentitySlot) TableName() string { return "identity_slot" }
