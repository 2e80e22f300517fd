package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/models"
)

type Service interface {
	// Append validates the sign rules for the entry type and writes it in tx.
	Append(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	Balance(ctx context.Context, creatorID uuid.UUID) (int64, error)
	List(ctx context.Context, creatorID uuid.UUID, f Filter) ([]*models.LedgerEntry, error)
	// Totals replays every entry of the creator.
	Totals(ctx context.Context, creatorID uuid.UUID) (Totals, error)
}

type service struct {
	store Store
	clock clockwork.Clock
}

func NewService(store Store, clock clockwork.Clock) Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &service{store: store, clock: clock}
}

var _ Service = (*service)(nil)

func (s *service) Append(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if err := CheckEntry(e); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	if err := s.store.AppendTx(ctx, tx, e); err != nil {
		return fmt.Errorf("append %s entry: %w", e.Type, err)
	}
	return nil
}

func (s *service) Balance(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	return s.store.SumByCreator(ctx, creatorID)
}

func (s *service) List(ctx context.Context, creatorID uuid.UUID, f Filter) ([]*models.LedgerEntry, error) {
	if f.Type != "" && !models.ValidLedgerType(f.Type) {
		return nil, models.Invalid("unknown transaction type %q", f.Type)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, models.Invalid("limit and offset must not be negative")
	}
	return s.store.ListByCreator(ctx, creatorID, f)
}

func (s *service) Totals(ctx context.Context, creatorID uuid.UUID) (Totals, error) {
	entries, err := s.store.ListByCreator(ctx, creatorID, Filter{})
	if err != nil {
		return Totals{}, err
	}
	return Replay(entries), nil
}

// CheckEntry enforces the sign convention of each transaction type.
func CheckEntry(e *models.LedgerEntry) error {
	if e.CreatorID == uuid.Nil {
		return models.Invalid("ledger entry without creator")
	}
	a := e.AmountCents
	var ok bool
	switch e.Type {
	case models.LedgerCommissionEarned:
		ok = a >= 0 && e.CommissionID != nil
	case models.LedgerCommissionCanceled:
		ok = a <= 0 && e.CommissionID != nil
	case models.LedgerCommissionAdjusted:
		ok = a != 0 && e.CommissionID != nil
	case models.LedgerPayoutSent:
		ok = a < 0 && e.PayoutItemID != nil
	case models.LedgerPayoutCompleted:
		ok = a == 0 && e.PayoutItemID != nil
	case models.LedgerPayoutFailed:
		ok = a > 0 && e.PayoutItemID != nil
	case models.LedgerPayoutFee:
		ok = a < 0
	case models.LedgerBalanceAdjustment, models.LedgerRefundProcessed:
		ok = a != 0 && e.Description != ""
	case models.LedgerPayoutInitiated:
		// Nothing is recorded until the provider accepts a transfer.
		return fmt.Errorf("%w: %s entries are not recorded", models.ErrInvariant, e.Type)
	default:
		return models.Invalid("unknown transaction type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s entry with amount %d", models.ErrInvariant, e.Type, a)
	}
	return nil
}

// Totals is the replayed position of one creator.
type Totals struct {
	BalanceCents int64 `json:"balance_cents"`
	// EarnedCents is commission earned net of cancellations and adjustments.
	EarnedCents int64 `json:"total_earned_cents"`
	// PaidCents is the magnitude of transfers sent and not reversed.
	PaidCents        int64     `json:"total_paid_cents"`
	FeesCents        int64     `json:"total_fees_cents"`
	AdjustmentsCents int64     `json:"total_adjustments_cents"`
	Entries          int       `json:"entries"`
	LastEntryAt      time.Time `json:"last_entry_at,omitempty"`
}

// Replay folds entries into Totals. Order does not matter.
func Replay(entries []*models.LedgerEntry) Totals {
	var t Totals
	for _, e := range entries {
		t.BalanceCents += e.AmountCents
		switch e.Type {
		case models.LedgerCommissionEarned, models.LedgerCommissionCanceled, models.LedgerCommissionAdjusted:
			t.EarnedCents += e.AmountCents
		case models.LedgerPayoutSent, models.LedgerPayoutCompleted, models.LedgerPayoutFailed:
			t.PaidCents -= e.AmountCents
		case models.LedgerPayoutFee:
			t.FeesCents -= e.AmountCents
		case models.LedgerBalanceAdjustment, models.LedgerRefundProcessed:
			t.AdjustmentsCents += e.AmountCents
		}
		if e.CreatedAt.After(t.LastEntryAt) {
			t.LastEntryAt = e.CreatedAt
		}
	}
	t.Entries = len(entries)
	return t
}

// CommissionNet sums the entries that reference the given commission.
func CommissionNet(entries []*models.LedgerEntry, commissionID uuid.UUID) int64 {
	var net int64
	for _, e := range entries {
		if e.CommissionID != nil && *e.CommissionID == commissionID {
			net += e.AmountCents
		}
	}
	return net
}

// VerifyCommission checks that the ledger effects of c net to its current contribution:
// zero when canceled, the full amount otherwise.
func VerifyCommission(entries []*models.LedgerEntry, c *models.Commission) error {
	want := c.AmountCents
	if c.Status == models.CommissionCanceled {
		want = 0
	}
	if got := CommissionNet(entries, c.ID); got != want {
		return fmt.Errorf("%w: commission %s nets %d in the ledger, expected %d", models.ErrInvariant, c.ID, got, want)
	}
	return nil
}
