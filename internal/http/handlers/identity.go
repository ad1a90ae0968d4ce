package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/http/response"
	"github.com/yungbote/studio-ingest/internal/ingest/ledger"
	"github.com/yungbote/studio-ingest/internal/platform/apierr"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type IdentityHandler struct {
	log    *logger.Logger
	ledger *ledger.Ledger
	roster media.Roster
}

func NewIdentityHandler(log *logger.Logger, l *ledger.Ledger, roster media.Roster) *IdentityHandler {
	return &IdentityHandler{log: log.With("handler", "IdentityHandler"), ledger: l, roster: roster}
}

type assignRequest struct {
	PublicID string `json:"public_id" binding:"required"`
}

func (h *IdentityHandler) params(c *gin.Context) (string, int, error) {
	agent, ok := h.roster.Canonical(c.Param("agent"))
	if !ok {
		return "", 0, &media.ValidationError{Field: "agent", Value: c.Param("agent"), Reason: "not a roster agent"}
	}
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return "", 0, &media.ValidationError{Field: "slot", Value: c.Param("slot"), Reason: "not an integer"}
	}
	return agent, slot, nil
}

// PUT /api/identity/:agent/:slot
func (h *IdentityHandler) Assign(c *gin.Context) {
	agent, slot, err := h.params(c)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.ledger.Assign(c.Request.Context(), agent, slot, req.PublicID)
	if err != nil {
		if errors.Is(err, ledger.ErrAssetNotFound) {
			err = apierr.New(http.StatusNotFound, "asset_not_found", err)
		}
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assignment": gin.H{
		"agent":     out.Agent,
		"slot":      out.Slot,
		"public_id": out.PublicID,
		"evicted":   out.Evicted,
	}})
}

// DELETE /api/identity/:agent/:slot
func (h *IdentityHandler) Release(c *gin.Context) {
	agent, slot, err := h.params(c)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if err := h.ledger.Release(c.Request.Context(), agent, slot); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/identity/:agent
func (h *IdentityHandler) ListSlots(c *gin.Context) {
	agent, ok := h.roster.Canonical(c.Param("agent"))
	if !ok {
		response.RespondDomainError(c, &media.ValidationError{Field: "agent", Value: c.Param("agent"), Reason: "not a roster agent"})
		return
	}
	slots, err := h.ledger.Slots(c.Request.Context(), agent)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "lookup_failed", fmt.Errorf("list slots: %w", err))
		return
	}
	out := make([]gin.H, 0, len(slots))
	for _, s := range slots {
		out = append(out, gin.H{"slot": s.Slot, "role": h.roster.RoleForSlot(s.Slot), "public_id": s.PublicID})
	}
	response.RespondOK(c, gin.H{"agent": agent, "slots": out})
}
