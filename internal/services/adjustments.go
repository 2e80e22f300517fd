package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/models"
)

// BalanceAdjustment is a manual correction of a creator's balance.
type BalanceAdjustment struct {
	CreatorID   uuid.UUID `json:"creator_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	// Kind is balance_adjustment (default) or refund_processed.
	Kind string `json:"kind"`
}

// AdjustmentService records manual corrections as new ledger entries. Rows are never edited
// to change a balance.
type AdjustmentService struct {
	Pool        TxBeginner
	Creators    CreatorStore
	Commissions CommissionStore
	Ledger      LedgerWriter
	Events      events.Publisher
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

func (s *AdjustmentService) AdjustBalance(ctx context.Context, adj BalanceAdjustment) (*models.LedgerEntry, error) {
	adj.Reason = strings.TrimSpace(adj.Reason)
	if adj.Kind == "" {
		adj.Kind = models.LedgerBalanceAdjustment
	}
	switch {
	case adj.CreatorID == uuid.Nil:
		return nil, models.Invalid("creator_id is required")
	case adj.AmountCents == 0:
		return nil, models.Invalid("amount_cents must not be zero")
	case adj.Reason == "":
		return nil, models.Invalid("reason is required")
	case adj.Kind != models.LedgerBalanceAdjustment && adj.Kind != models.LedgerRefundProcessed:
		return nil, models.Invalid("kind must be %s or %s", models.LedgerBalanceAdjustment, models.LedgerRefundProcessed)
	}
	now := clockOrReal(s.Clock).Now()
	entry := &models.LedgerEntry{
		CreatorID:   adj.CreatorID,
		Type:        adj.Kind,
		AmountCents: adj.AmountCents,
		Description: adj.Reason,
		CreatedAt:   now,
	}
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := s.Creators.GetByIDForUpdate(ctx, tx, adj.CreatorID); err != nil {
			return fmt.Errorf("creator %s: %w", adj.CreatorID, err)
		}
		return s.Ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	if s.Events != nil {
		s.Events.Publish(events.Event{Kind: events.KindLedgerAppended, CreatorID: adj.CreatorID, Ref: entry.ID, At: now})
	}
	loggerOrDefault(s.Logger).Info("balance adjusted", "creator_id", adj.CreatorID, "kind", adj.Kind, "amount_cents", adj.AmountCents)
	return entry, nil
}

// AdjustCommission changes the amount of an unsettled commission. The difference is
// appended as commission_adjusted and the commission goes back through the lock lifecycle.
func (s *AdjustmentService) AdjustCommission(ctx context.Context, commissionID uuid.UUID, newAmountCents int64, reason string) (*models.Commission, error) {
	reason = strings.TrimSpace(reason)
	if newAmountCents < 0 {
		return nil, models.Invalid("amount_cents must not be negative, got %d", newAmountCents)
	}
	if reason == "" {
		return nil, models.Invalid("reason is required")
	}
	peek, err := s.Commissions.GetByID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	now := clockOrReal(s.Clock).Now()
	var c *models.Commission
	err = inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := s.Creators.GetByIDForUpdate(ctx, tx, peek.CreatorID); err != nil {
			return err
		}
		c, err = s.Commissions.GetByIDForUpdate(ctx, tx, commissionID)
		if err != nil {
			return err
		}
		switch c.Status {
		case models.CommissionPending, models.CommissionPayable, models.CommissionAdjusted:
		default:
			return fmt.Errorf("%w: commission %s is %s", models.ErrInvalidTransition, c.ID, c.Status)
		}
		if c.Attached() {
			return fmt.Errorf("%w: commission %s is claimed by payout item %s", models.ErrInvalidTransition, c.ID, *c.PayoutItemID)
		}
		delta := newAmountCents - c.AmountCents
		if delta == 0 {
			return models.Invalid("commission %s already has amount %d", c.ID, newAmountCents)
		}
		if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
			CreatorID:    c.CreatorID,
			Type:         models.LedgerCommissionAdjusted,
			AmountCents:  delta,
			CommissionID: &c.ID,
			Description:  reason,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		c.AmountCents = newAmountCents
		c.Status = models.CommissionAdjusted
		c.UpdatedAt = now
		return s.Commissions.UpdateTx(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	if s.Events != nil {
		s.Events.Publish(
			events.Event{Kind: events.KindLedgerAppended, CreatorID: c.CreatorID, Ref: c.ID, At: now},
			events.Event{Kind: events.KindCommissionStatus, CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now},
		)
	}
	loggerOrDefault(s.Logger).Info("commission adjusted", "creator_id", c.CreatorID, "commission_id", c.ID, "amount_cents", c.AmountCents)
	return c, nil
}
