package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

var ErrAssetNotFound = errors.New("asset not found")

// Assignment reports the outcome of one Assign call.
type Assignment struct {
	Agent    string
	Slot     int
	PublicID string
	// Evicted is the asset that lost the slot, empty when the slot was free or already held by PublicID.
	Evicted string
}

// Ledger keeps at most one asset per (agent, slot). Writes to the same pair are
// serialized in-process and each eviction-then-write commits in one transaction.
type Ledger struct {
	log    *logger.Logger
	db     *gorm.DB
	assets repos.StoredAssetRepo
	slots  repos.IdentitySlotRepo
	locks  slotLocks
}

func New(log *logger.Logger, db *gorm.DB, assets repos.StoredAssetRepo, slots repos.IdentitySlotRepo) (*Ledger, error) {
	if log == nil || db == nil || assets == nil || slots == nil {
		return nil, fmt.Errorf("ledger: missing dependency")
	}
	return &Ledger{
		log:    log.With("service", "IdentityLedger"),
		db:     db,
		assets: assets,
		slots:  slots,
	}, nil
}

func validate(agent string, slot int) (string, error) {
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent == "" || agent == media.UnknownAgent {
		return "", &media.ValidationError{Field: "agent", Value: agent, Reason: "a roster agent is required"}
	}
	if !media.ValidSlot(slot) {
		return "", media.NewSlotValidationError(slot)
	}
	return agent, nil
}

// Assign anchors publicID at (agent, slot). A different previous occupant keeps
// its catalog row but loses its identity fields. If publicID held another slot,
// that slot is released.
func (l *Ledger) Assign(ctx context.Context, agent string, slot int, publicID string) (*Assignment, error) {
	agent, err := validate(agent, slot)
	if err != nil {
		return nil, err
	}
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, &media.ValidationError{Field: "public_id", Value: publicID, Reason: "required"}
	}

	unlock := l.locks.lock(agent, slot)
	defer unlock()

	out := &Assignment{Agent: agent, Slot: slot, PublicID: publicID}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		target, err := l.assets.GetByPublicID(dbc, publicID)
		if err != nil {
			return fmt.Errorf("load asset: %w", err)
		}
		if target == nil {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, publicID)
		}
		if target.HasIdentity() && *target.IdentityAgent == agent && *target.IdentitySlot == slot {
			return l.slots.Put(dbc, agent, slot, publicID)
		}

		occupant, err := l.assets.GetByIdentity(dbc, agent, slot)
		if err != nil {
			return fmt.Errorf("load occupant: %w", err)
		}
		if occupant != nil {
			out.Evicted = occupant.PublicID
		} else if prev, err := l.slots.Get(dbc, agent, slot); err != nil {
			return fmt.Errorf("load slot: %w", err)
		} else if prev != nil && prev.PublicID != publicID {
			out.Evicted = prev.PublicID
		}

		// A move releases the slot the asset held before. That slot is not
		// locked here, so the row goes only if it still names publicID.
		if target.HasIdentity() {
			if _, err := l.slots.Release(dbc, *target.IdentityAgent, *target.IdentitySlot, publicID); err != nil {
				return fmt.Errorf("release previous slot: %w", err)
			}
		}
		if _, err := l.assets.ClearIdentity(dbc, agent, slot); err != nil {
			return fmt.Errorf("evict occupant: %w", err)
		}
		if err := l.assets.SetIdentity(dbc, publicID, agent, slot); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrAssetNotFound, publicID)
			}
			return fmt.Errorf("set identity: %w", err)
		}
		if err := l.slots.Put(dbc, agent, slot, publicID); err != nil {
			return fmt.Errorf("write slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Evicted != "" {
		l.log.Info("identity slot reassigned", "agent", agent, "slot", slot, "public_id", publicID, "evicted", out.Evicted)
	} else {
		l.log.Debug("identity slot assigned", "agent", agent, "slot", slot, "public_id", publicID)
	}
	return out, nil
}

// Occupant returns the asset anchoring (agent, slot), or nil when the slot is free.
func (l *Ledger) Occupant(ctx context.Context, agent string, slot int) (*media.StoredAsset, error) {
	agent, err := validate(agent, slot)
	if err != nil {
		return nil, err
	}
	return l.assets.GetByIdentity(dbctx.Context{Ctx: ctx}, agent, slot)
}

// Release frees (agent, slot). The former occupant keeps its catalog row.
func (l *Ledger) Release(ctx context.Context, agent string, slot int) error {
	agent, err := validate(agent, slot)
	if err != nil {
		return err
	}
	unlock := l.locks.lock(agent, slot)
	defer unlock()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := l.assets.ClearIdentity(dbc, agent, slot); err != nil {
			return fmt.Errorf("clear identity: %w", err)
		}
		return l.slots.Delete(dbc, agent, slot)
	})
}

// Slots lists the anchored slots of one agent in slot order.
func (l *Ledger) Slots(ctx context.Context, agent string) ([]*media.IdentitySlot, error) {
	agent = strings.ToLower(strings.TrimSpace(agent))
	return l.slots.ListByAgent(dbctx.Context{Ctx: ctx}, agent)
}
