package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	"github.com/yungbote/studio-ingest/internal/http/response"
	"github.com/yungbote/studio-ingest/internal/platform/apierr"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type AssetHandler struct {
	log    *logger.Logger
	assets repos.StoredAssetRepo
}

func NewAssetHandler(log *logger.Logger, assets repos.StoredAssetRepo) *AssetHandler {
	return &AssetHandler{log: log.With("handler", "AssetHandler"), assets: assets}
}

type assetView struct {
	PublicID      string   `json:"public_id"`
	URL           string   `json:"url"`
	ResourceKind  string   `json:"resource_kind"`
	Folder        string   `json:"folder"`
	Format        string   `json:"format"`
	ByteSize      int64    `json:"byte_size"`
	Width         *int     `json:"width,omitempty"`
	Height        *int     `json:"height,omitempty"`
	IsVisualBible bool     `json:"is_visual_bible"`
	IdentityAgent *string  `json:"identity_agent,omitempty"`
	IdentitySlot  *int     `json:"identity_slot,omitempty"`
	Role          string   `json:"role,omitempty"`
	Confidence    float64  `json:"confidence"`
	LoopKey       string   `json:"loop_key,omitempty"`
	Tags          []string `json:"tags"`
}

// GET /api/assets/*publicId
//
// Public ids contain slashes, so the route uses a catch-all parameter.
func (h *AssetHandler) GetAsset(c *gin.Context) {
	publicID := strings.TrimPrefix(c.Param("publicId"), "/")
	if publicID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_public_id", fmt.Errorf("public id required"))
		return
	}
	row, err := h.assets.GetByPublicID(dbctx.Context{Ctx: c.Request.Context()}, publicID)
	if err != nil {
		h.log.Warn("asset lookup failed", "public_id", publicID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if row == nil {
		response.RespondDomainError(c, apierr.NotFound("asset_not_found", "asset %q not found", publicID))
		return
	}
	tags := row.TagList()
	if tags == nil {
		tags = []string{}
	}
	response.RespondOK(c, gin.H{"asset": assetView{
		PublicID:      row.PublicID,
		URL:           row.URL,
		ResourceKind:  row.ResourceKind,
		Folder:        row.Folder,
		Format:        row.Format,
		ByteSize:      row.ByteSize,
		Width:         row.Width,
		Height:        row.Height,
		IsVisualBible: row.IsVisualBible,
		IdentityAgent: row.IdentityAgent,
		IdentitySlot:  row.IdentitySlot,
		Role:          row.Role,
		Confidence:    row.Confidence,
		LoopKey:       row.LoopKey,
		Tags:          tags,
	}})
}
