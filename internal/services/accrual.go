package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/alerting"
	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/metrics"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/money"
)

// OrderCompleted is the order-completion event sent by the commerce system.
type OrderCompleted struct {
	CreatorID        uuid.UUID `json:"creator_id"`
	OrderID          string    `json:"order_id"`
	RoutineID        string    `json:"routine_id"`
	Variant          string    `json:"variant"`
	GrossAmountCents int64     `json:"gross_amount"`
	Currency         string    `json:"currency"`
}

// CancelResult reports what an order cancellation did.
type CancelResult struct {
	Canceled  []*models.Commission `json:"canceled"`
	Conflicts []*models.Commission `json:"conflicts"`
}

// AccrualService turns order events into commissions and their founding ledger entries.
type AccrualService struct {
	Pool        TxBeginner
	Creators    CreatorStore
	Tiers       TierStore
	Commissions CommissionStore
	Issues      IssueStore
	Ledger      LedgerWriter
	Events      events.Publisher
	Alerts      alerting.Notifier
	Clock       clockwork.Clock
	Currency    string
	Logger      *slog.Logger
}

func (e *OrderCompleted) validate(currency string) error {
	if e.CreatorID == uuid.Nil {
		return models.Invalid("creator_id is required")
	}
	e.OrderID = strings.TrimSpace(e.OrderID)
	if e.OrderID == "" {
		return models.Invalid("order_id is required")
	}
	if e.Variant == "" {
		e.Variant = models.VariantBase
	}
	if !models.ValidVariant(e.Variant) {
		return models.Invalid("unknown variant %q", e.Variant)
	}
	if e.GrossAmountCents <= 0 {
		return models.Invalid("gross_amount must be positive, got %d", e.GrossAmountCents)
	}
	if e.Currency == "" {
		e.Currency = currency
	}
	if !strings.EqualFold(e.Currency, currency) {
		return models.Invalid("currency %s is not accepted, expected %s", e.Currency, currency)
	}
	e.Currency = strings.ToUpper(currency)
	return nil
}

// Accrue creates a pending commission and its commission_earned entry in one transaction.
// A replayed event returns models.ErrDuplicateEvent and writes nothing.
func (s *AccrualService) Accrue(ctx context.Context, ev OrderCompleted) (*models.Commission, error) {
	if err := ev.validate(s.Currency); err != nil {
		return nil, err
	}
	now := clockOrReal(s.Clock).Now()
	var c *models.Commission
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		creator, err := s.Creators.GetByIDForUpdate(ctx, tx, ev.CreatorID)
		if err != nil {
			return fmt.Errorf("creator %s: %w", ev.CreatorID, err)
		}
		if !creator.Active {
			return models.Invalid("creator %s is deactivated", creator.ID)
		}
		dup, err := s.Commissions.ExistsTx(ctx, tx, ev.CreatorID, ev.OrderID, ev.Variant)
		if err != nil {
			return err
		}
		if dup {
			return models.ErrDuplicateEvent
		}
		rate, err := s.effectiveRate(ctx, tx, creator, now)
		if err != nil {
			return err
		}
		amount, err := money.ApplyRate(ev.GrossAmountCents, rate)
		if err != nil {
			return err
		}
		c = &models.Commission{
			ID:               uuid.New(),
			CreatorID:        creator.ID,
			OrderID:          ev.OrderID,
			RoutineID:        ev.RoutineID,
			Variant:          ev.Variant,
			GrossAmountCents: ev.GrossAmountCents,
			Rate:             rate,
			AmountCents:      amount,
			Currency:         ev.Currency,
			Status:           models.CommissionPending,
			UnlockAt:         now.Add(time.Duration(creator.LockDays) * 24 * time.Hour),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.Commissions.CreateTx(ctx, tx, c); err != nil {
			return err
		}
		return s.Ledger.Append(ctx, tx, &models.LedgerEntry{
			CreatorID:    c.CreatorID,
			Type:         models.LedgerCommissionEarned,
			AmountCents:  c.AmountCents,
			CommissionID: &c.ID,
			Description:  fmt.Sprintf("Commission on order %s (%s)", c.OrderID, c.Variant),
			CreatedAt:    now,
		})
	})
	if errors.Is(err, models.ErrDuplicateEvent) {
		metrics.DuplicateEventsTotal.Inc()
		loggerOrDefault(s.Logger).Info("duplicate order event absorbed", "creator_id", ev.CreatorID, "order_id", ev.OrderID, "variant", ev.Variant)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metrics.CommissionsAccruedTotal.WithLabelValues(c.Variant).Inc()
	var fx effects
	fx.event(events.KindLedgerAppended, events.Event{CreatorID: c.CreatorID, Ref: c.ID, At: now})
	fx.event(events.KindCommissionStatus, events.Event{CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now})
	fx.flush(s.Events, s.Alerts)
	loggerOrDefault(s.Logger).Info("commission accrued",
		"creator_id", c.CreatorID, "commission_id", c.ID, "order_id", c.OrderID,
		"amount_cents", c.AmountCents, "rate", c.Rate.String(), "unlock_at", c.UnlockAt)
	return c, nil
}

// effectiveRate is the creator's override when set, otherwise the rate of the tier earned
// so far this month.
func (s *AccrualService) effectiveRate(ctx context.Context, tx pgx.Tx, creator *models.Creator, now time.Time) (decimal.Decimal, error) {
	if creator.RateOverride != nil {
		return *creator.RateOverride, nil
	}
	tiers, err := s.Tiers.List(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list tiers: %w", err)
	}
	from, to := MonthWindow(now)
	revenue, err := s.Commissions.RevenueBetweenTx(ctx, tx, creator.ID, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("monthly revenue: %w", err)
	}
	res, err := ResolveTier(tiers, revenue)
	if err != nil {
		return decimal.Zero, err
	}
	if err := money.ValidateRate(res.Current.Rate); err != nil {
		return decimal.Zero, fmt.Errorf("%w: tier %s: %v", models.ErrConfiguration, res.Current.Name, err)
	}
	return res.Current.Rate, nil
}

// CancelOrder cancels every unsettled commission of the order. Commissions already paid or
// attached to a payout item are left untouched and raised to the operator queue; in that
// case the committed result is returned together with models.ErrSettledCancellation.
func (s *AccrualService) CancelOrder(ctx context.Context, orderID string) (*CancelResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, models.Invalid("order_id is required")
	}
	now := clockOrReal(s.Clock).Now()
	var (
		res *CancelResult
		fx  effects
	)
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		res = &CancelResult{}
		fx = effects{}
		creatorIDs, err := s.Commissions.OrderCreatorsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		// Lock creators in deterministic order to avoid deadlock with concurrent batches.
		sort.Slice(creatorIDs, func(i, j int) bool { return creatorIDs[i].String() < creatorIDs[j].String() })
		for _, id := range creatorIDs {
			if _, err := s.Creators.GetByIDForUpdate(ctx, tx, id); err != nil {
				return err
			}
		}
		commissions, err := s.Commissions.ListByOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, c := range commissions {
			switch {
			case c.Status == models.CommissionCanceled:
				continue
			case c.Status == models.CommissionPaid || c.Attached():
				res.Conflicts = append(res.Conflicts, c)
				detail := fmt.Sprintf("order %s was canceled after commission %s (%s) was %s",
					orderID, c.ID, money.FormatCents(c.AmountCents, c.Currency), settledState(c))
				if err := raiseIssue(ctx, tx, s.Issues, &fx, s.Clock, models.IssueSettledCancellation,
					c.CreatorID, issueRef{commissionID: &c.ID}, detail); err != nil {
					return err
				}
				continue
			}
			amount := c.AmountCents
			c.Status = models.CommissionCanceled
			c.CanceledAt = &now
			c.UpdatedAt = now
			if err := s.Commissions.UpdateTx(ctx, tx, c); err != nil {
				return err
			}
			if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
				CreatorID:    c.CreatorID,
				Type:         models.LedgerCommissionCanceled,
				AmountCents:  -amount,
				CommissionID: &c.ID,
				Description:  fmt.Sprintf("Order %s canceled", orderID),
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			res.Canceled = append(res.Canceled, c)
			fx.event(events.KindLedgerAppended, events.Event{CreatorID: c.CreatorID, Ref: c.ID, At: now})
			fx.event(events.KindCommissionStatus, events.Event{CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fx.flush(s.Events, s.Alerts)
	metrics.CommissionsCanceledTotal.Add(float64(len(res.Canceled)))
	log := loggerOrDefault(s.Logger)
	for _, c := range res.Canceled {
		log.Info("commission canceled", "creator_id", c.CreatorID, "commission_id", c.ID, "order_id", orderID)
	}
	if len(res.Conflicts) > 0 {
		log.Warn("cancellation hit settled commissions", "order_id", orderID, "conflicts", len(res.Conflicts))
		return res, fmt.Errorf("%w: %d commission(s) of order %s", models.ErrSettledCancellation, len(res.Conflicts), orderID)
	}
	return res, nil
}

func settledState(c *models.Commission) string {
	if c.Status == models.CommissionPaid {
		return "paid"
	}
	return "attached to a payout"
}
