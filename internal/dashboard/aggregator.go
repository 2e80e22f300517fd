// Package dashboard builds the creator-facing read projections. Everything here is derived
// from ledger entries, commissions and payout items on read; nothing is stored.
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/money"
	"github.com/yeoskin/backend/internal/repository"
	"github.com/yeoskin/backend/internal/services"
)

type CreatorReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error)
}

type CommissionReader interface {
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Commission, error)
}

type PayoutReader interface {
	ListItems(ctx context.Context, f repository.ItemFilter) ([]*models.PayoutItem, error)
}

type TierResolver interface {
	Resolve(ctx context.Context, creatorID uuid.UUID, asOf time.Time) (services.TierResolution, error)
}

// Aggregator answers the dashboard queries. Sub-queries that fail are logged and named in
// Degraded; the rest of the page is still returned.
type Aggregator struct {
	Creators     CreatorReader
	Ledger       ledger.Service
	Commissions  CommissionReader
	Payouts      PayoutReader
	Tiers        TierResolver
	Cache        *Cache
	Clock        clockwork.Clock
	MinimumCents int64
	Currency     string
	Logger       *slog.Logger
}

const recentPayouts = 5

// Risk indicators reported by the forecast.
const (
	RiskNoDestination         = "no_payout_destination"
	RiskUnverifiedDestination = "unverified_payout_destination"
	RiskBelowMinimum          = "below_payout_minimum"
	RiskDeactivated           = "creator_deactivated"
	RiskRecentFailure         = "recent_payout_failed"
)

type Forecast struct {
	PayableCents     int64      `json:"payable_cents"`
	LockedCents      int64      `json:"locked_cents"`
	PendingCents     int64      `json:"pending_cents"`
	InPayoutCents    int64      `json:"in_payout_cents"`
	NextUnlockAt     *time.Time `json:"next_unlock_date,omitempty"`
	MinimumCents     int64      `json:"minimum_cents"`
	CanReceivePayout bool       `json:"can_receive_payout"`
	Risks            []string   `json:"risks"`
}

// PayoutSummary is a payout item as a creator sees it, without provider error codes.
type PayoutSummary struct {
	ID          uuid.UUID  `json:"id"`
	AmountCents int64      `json:"amount_cents"`
	Amount      string     `json:"amount"`
	FeeCents    int64      `json:"fee_cents"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Dashboard struct {
	CreatorID             uuid.UUID                `json:"creator_id"`
	DisplayName           string                   `json:"display_name"`
	Currency              string                   `json:"currency"`
	BalanceCents          int64                    `json:"balance_cents"`
	TotalEarnedCents      int64                    `json:"total_earned_cents"`
	TotalPaidCents        int64                    `json:"total_paid_cents"`
	TotalFeesCents        int64                    `json:"total_fees_cents"`
	TotalAdjustmentsCents int64                    `json:"total_adjustments_cents"`
	Buckets               services.Position        `json:"buckets"`
	Tier                  *services.TierResolution `json:"tier,omitempty"`
	Forecast              Forecast                 `json:"forecast"`
	RecentPayouts         []PayoutSummary          `json:"recent_payouts"`
	Degraded              []string                 `json:"degraded,omitempty"`
	GeneratedAt           time.Time                `json:"generated_at"`
}

func (a *Aggregator) clock() clockwork.Clock {
	if a.Clock == nil {
		return clockwork.NewRealClock()
	}
	return a.Clock
}

func (a *Aggregator) log() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// snapshot holds the raw reads one projection is built from.
type snapshot struct {
	creator     *models.Creator
	totals      ledger.Totals
	commissions []*models.Commission
	items       []*models.PayoutItem
	tier        *services.TierResolution
	degraded    []string
}

// load reads the creator and then the requested sources in parallel. Only the creator
// lookup can fail the call.
func (a *Aggregator) load(ctx context.Context, creatorID uuid.UUID, withTotals, withItems, withTier bool) (*snapshot, error) {
	creator, err := a.Creators.GetByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	s := &snapshot{creator: creator}
	var mu sync.Mutex
	degrade := func(part string, err error) {
		a.log().Warn("dashboard sub-query failed", "creator_id", creatorID, "part", part, "error", err)
		mu.Lock()
		defer mu.Unlock()
		s.degraded = append(s.degraded, part)
	}

	var g errgroup.Group
	g.Go(func() error {
		list, err := a.Commissions.ListByCreator(ctx, creatorID)
		if err != nil {
			degrade("commissions", err)
			return nil
		}
		s.commissions = list
		return nil
	})
	if withTotals {
		g.Go(func() error {
			t, err := a.Ledger.Totals(ctx, creatorID)
			if err != nil {
				degrade("ledger", err)
				return nil
			}
			s.totals = t
			return nil
		})
	}
	if withItems {
		g.Go(func() error {
			items, err := a.Payouts.ListItems(ctx, repository.ItemFilter{CreatorID: &creatorID, Limit: 20})
			if err != nil {
				degrade("payouts", err)
				return nil
			}
			s.items = items
			return nil
		})
	}
	if withTier && a.Tiers != nil {
		g.Go(func() error {
			t, err := a.Tiers.Resolve(ctx, creatorID, a.clock().Now())
			if err != nil {
				degrade("tier", err)
				return nil
			}
			s.tier = &t
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(s.degraded)
	return s, nil
}

// GetDashboard returns the creator's balances, buckets, tier progress and forecast.
func (a *Aggregator) GetDashboard(ctx context.Context, creatorID uuid.UUID) (*Dashboard, error) {
	var gen uint64
	if a.Cache != nil {
		if d, ok := a.Cache.Get(creatorID); ok {
			return d, nil
		}
		gen = a.Cache.Generation(creatorID)
	}
	s, err := a.load(ctx, creatorID, true, true, true)
	if err != nil {
		return nil, err
	}
	now := a.clock().Now()
	pos := services.Classify(s.commissions, now)
	d := &Dashboard{
		CreatorID:             s.creator.ID,
		DisplayName:           s.creator.DisplayName,
		Currency:              a.Currency,
		BalanceCents:          s.totals.BalanceCents,
		TotalEarnedCents:      s.totals.EarnedCents,
		TotalPaidCents:        s.totals.PaidCents,
		TotalFeesCents:        s.totals.FeesCents,
		TotalAdjustmentsCents: s.totals.AdjustmentsCents,
		Buckets:               pos,
		Tier:                  s.tier,
		Forecast:              a.forecast(s.creator, pos, s.items),
		RecentPayouts:         a.summaries(s.items, recentPayouts),
		Degraded:              s.degraded,
		GeneratedAt:           now,
	}
	if a.Cache != nil && len(d.Degraded) == 0 {
		a.Cache.Put(creatorID, gen, d)
	}
	return d, nil
}

// GetForecast returns what the creator can expect from the next payout run.
func (a *Aggregator) GetForecast(ctx context.Context, creatorID uuid.UUID) (*Forecast, []string, error) {
	s, err := a.load(ctx, creatorID, false, true, false)
	if err != nil {
		return nil, nil, err
	}
	f := a.forecast(s.creator, services.Classify(s.commissions, a.clock().Now()), s.items)
	return &f, s.degraded, nil
}

func (a *Aggregator) forecast(c *models.Creator, pos services.Position, items []*models.PayoutItem) Forecast {
	f := Forecast{
		PayableCents:  pos.Payable.AmountCents,
		LockedCents:   pos.Locked.AmountCents,
		PendingCents:  pos.Pending.AmountCents,
		InPayoutCents: pos.InPayout.AmountCents,
		NextUnlockAt:  pos.NextUnlockAt,
		MinimumCents:  a.MinimumCents,
		Risks:         []string{},
	}
	switch {
	case !c.HasDestination():
		f.Risks = append(f.Risks, RiskNoDestination)
	case !c.BankVerified:
		f.Risks = append(f.Risks, RiskUnverifiedDestination)
	}
	if !c.Active {
		f.Risks = append(f.Risks, RiskDeactivated)
	}
	if f.PayableCents <= a.MinimumCents {
		f.Risks = append(f.Risks, RiskBelowMinimum)
	}
	// items are newest first; the latest settled outcome decides.
	for _, it := range items {
		if it.Status == models.ItemFailed {
			f.Risks = append(f.Risks, RiskRecentFailure)
			break
		}
		if it.Status == models.ItemCompleted {
			break
		}
	}
	f.CanReceivePayout = c.CanReceivePayouts() && f.PayableCents > a.MinimumCents
	return f
}

func (a *Aggregator) summaries(items []*models.PayoutItem, n int) []PayoutSummary {
	out := make([]PayoutSummary, 0, n)
	for _, it := range items {
		if len(out) == n {
			break
		}
		status, msg := PlainStatus(it)
		out = append(out, PayoutSummary{
			ID:          it.ID,
			AmountCents: it.AmountCents,
			Amount:      money.FormatCents(it.AmountCents, it.Currency),
			FeeCents:    it.FeeCents,
			Status:      status,
			Message:     msg,
			CreatedAt:   it.CreatedAt,
			SentAt:      it.SentAt,
			CompletedAt: it.CompletedAt,
		})
	}
	return out
}

// PlainStatus is the creator-facing status. A permanent failure asks the creator to check
// their payout details instead of naming the provider's code.
func PlainStatus(it *models.PayoutItem) (string, string) {
	status, msg := it.CreatorStatus()
	if it.Status == models.ItemFailed && it.FailureClass == string(models.ProviderPermanent) {
		msg = "We could not pay into your bank account. Please check your payout details."
	}
	return status, msg
}

// GetLedger pages through the creator's ledger, newest first.
func (a *Aggregator) GetLedger(ctx context.Context, creatorID uuid.UUID, limit, offset int, txType string) ([]*models.LedgerEntry, error) {
	limit, offset, err := services.PageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	if _, err := a.Creators.GetByID(ctx, creatorID); err != nil {
		return nil, err
	}
	return a.Ledger.List(ctx, creatorID, ledger.Filter{Type: txType, Limit: limit, Offset: offset})
}

type TimelineEntry struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"transaction_type"`
	Label        string     `json:"label"`
	Detail       string     `json:"detail,omitempty"`
	AmountCents  int64      `json:"amount_cents"`
	Amount       string     `json:"amount"`
	CommissionID *uuid.UUID `json:"commission_id,omitempty"`
	PayoutItemID *uuid.UUID `json:"payout_item_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var labels = map[string]string{
	models.LedgerCommissionEarned:   "Commission earned",
	models.LedgerCommissionCanceled: "Commission canceled",
	models.LedgerCommissionAdjusted: "Commission adjusted",
	models.LedgerPayoutInitiated:    "Payout initiated",
	models.LedgerPayoutSent:         "Payout sent",
	models.LedgerPayoutCompleted:    "Payout completed",
	models.LedgerPayoutFailed:       "Payout returned",
	models.LedgerPayoutFee:          "Transfer fee",
	models.LedgerBalanceAdjustment:  "Balance adjustment",
	models.LedgerRefundProcessed:    "Refund processed",
}

// Label returns the human-readable name of a transaction type.
func Label(txType string) string {
	if l, ok := labels[txType]; ok {
		return l
	}
	return txType
}

// GetTimeline merges every ledger entry type into one reverse-chronological feed.
func (a *Aggregator) GetTimeline(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]TimelineEntry, error) {
	entries, err := a.GetLedger(ctx, creatorID, limit, offset, "")
	if err != nil {
		return nil, err
	}
	currency := a.Currency
	out := make([]TimelineEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TimelineEntry{
			ID:           e.ID,
			Type:         e.Type,
			Label:        Label(e.Type),
			Detail:       e.Description,
			AmountCents:  e.AmountCents,
			Amount:       money.FormatCents(e.AmountCents, currency),
			CommissionID: e.CommissionID,
			PayoutItemID: e.PayoutItemID,
			CreatedAt:    e.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type VariantStats struct {
	Variant         string          `json:"variant"`
	Orders          int             `json:"orders"`
	RevenueCents    int64           `json:"revenue_cents"`
	CommissionCents int64           `json:"commission_cents"`
	AverageRate     decimal.Decimal `json:"average_rate"`
}

type RoutineStats struct {
	RoutineID       string          `json:"routine_id"`
	Orders          int             `json:"orders"`
	RevenueCents    int64           `json:"revenue_cents"`
	CommissionCents int64           `json:"commission_cents"`
	AverageRate     decimal.Decimal `json:"average_rate"`
	// UpsellRate is the share of orders that include at least one upsell variant.
	UpsellRate decimal.Decimal `json:"upsell_rate"`
	Variants   []VariantStats  `json:"variants"`
}

// GetRoutineBreakdown groups the creator's non-canceled commissions by routine and variant
// and returns one page of routines, highest revenue first.
func (a *Aggregator) GetRoutineBreakdown(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]RoutineStats, error) {
	limit, offset, err := services.PageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	if _, err := a.Creators.GetByID(ctx, creatorID); err != nil {
		return nil, err
	}
	list, err := a.Commissions.ListByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	stats := Breakdown(list)
	if offset >= len(stats) {
		return []RoutineStats{}, nil
	}
	return stats[offset:min(offset+limit, len(stats))], nil
}

// Breakdown is the pure part of GetRoutineBreakdown.
func Breakdown(commissions []*models.Commission) []RoutineStats {
	type acc struct {
		stats    RoutineStats
		orders   map[string]bool
		upsell   map[string]bool
		variants map[string]*VariantStats
		vorders  map[string]map[string]bool
	}
	byRoutine := map[string]*acc{}
	for _, c := range commissions {
		if c.Status == models.CommissionCanceled {
			continue
		}
		r, ok := byRoutine[c.RoutineID]
		if !ok {
			r = &acc{
				stats:    RoutineStats{RoutineID: c.RoutineID},
				orders:   map[string]bool{},
				upsell:   map[string]bool{},
				variants: map[string]*VariantStats{},
				vorders:  map[string]map[string]bool{},
			}
			byRoutine[c.RoutineID] = r
		}
		r.orders[c.OrderID] = true
		if models.IsUpsell(c.Variant) {
			r.upsell[c.OrderID] = true
		}
		r.stats.RevenueCents += c.GrossAmountCents
		r.stats.CommissionCents += c.AmountCents

		v, ok := r.variants[c.Variant]
		if !ok {
			v = &VariantStats{Variant: c.Variant}
			r.variants[c.Variant] = v
			r.vorders[c.Variant] = map[string]bool{}
		}
		r.vorders[c.Variant][c.OrderID] = true
		v.RevenueCents += c.GrossAmountCents
		v.CommissionCents += c.AmountCents
	}

	out := make([]RoutineStats, 0, len(byRoutine))
	for _, r := range byRoutine {
		st := r.stats
		st.Orders = len(r.orders)
		st.AverageRate = money.Ratio(st.CommissionCents, st.RevenueCents, 4)
		st.UpsellRate = money.Ratio(int64(len(r.upsell)), int64(st.Orders), 4)
		for name, v := range r.variants {
			v.Orders = len(r.vorders[name])
			v.AverageRate = money.Ratio(v.CommissionCents, v.RevenueCents, 4)
			st.Variants = append(st.Variants, *v)
		}
		sort.Slice(st.Variants, func(i, j int) bool { return st.Variants[i].Variant < st.Variants[j].Variant })
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevenueCents != out[j].RevenueCents {
			return out[i].RevenueCents > out[j].RevenueCents
		}
		return out[i].RoutineID < out[j].RoutineID
	})
	return out
}
