package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/models"
)

// TierResolution is the tier position of a creator for one calendar month.
type TierResolution struct {
	Current        *models.CommissionTier `json:"current"`
	Next           *models.CommissionTier `json:"next,omitempty"`
	RemainingCents int64                  `json:"remaining_cents"`
	RevenueCents   int64                  `json:"revenue_cents"`
	WindowStart    time.Time              `json:"window_start"`
	WindowEnd      time.Time              `json:"window_end"`
}

// MonthWindow returns the UTC calendar month containing t as [start, end).
func MonthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// SortTiers orders tiers by threshold and rejects an empty table or duplicate thresholds.
func SortTiers(tiers []*models.CommissionTier) ([]*models.CommissionTier, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: commission tier table is empty", models.ErrConfiguration)
	}
	sorted := append([]*models.CommissionTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinMonthlyRevenueCents < sorted[j].MinMonthlyRevenueCents
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinMonthlyRevenueCents == sorted[i-1].MinMonthlyRevenueCents {
			return nil, fmt.Errorf("%w: tiers %q and %q share threshold %d",
				models.ErrConfiguration, sorted[i-1].Name, sorted[i].Name, sorted[i].MinMonthlyRevenueCents)
		}
	}
	return sorted, nil
}

// ResolveTier returns the highest tier whose threshold is met by revenue, the next tier
// above revenue and the amount left to reach it. When no threshold is met the lowest
// tier is current.
func ResolveTier(tiers []*models.CommissionTier, revenueCents int64) (TierResolution, error) {
	sorted, err := SortTiers(tiers)
	if err != nil {
		return TierResolution{}, err
	}
	res := TierResolution{Current: sorted[0], RevenueCents: revenueCents}
	for _, t := range sorted {
		if t.MinMonthlyRevenueCents <= revenueCents {
			res.Current = t
			continue
		}
		res.Next = t
		res.RemainingCents = t.MinMonthlyRevenueCents - revenueCents
		break
	}
	return res, nil
}

// TierService resolves tiers against stored commission revenue.
type TierService struct {
	Tiers       TierStore
	Commissions RevenueReader
	Clock       clockwork.Clock
}

func NewTierService(tiers TierStore, commissions RevenueReader, clock clockwork.Clock) *TierService {
	return &TierService{Tiers: tiers, Commissions: commissions, Clock: clock}
}

func (s *TierService) List(ctx context.Context) ([]*models.CommissionTier, error) {
	tiers, err := s.Tiers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return SortTiers(tiers)
}

// Resolve computes the creator's tier for the calendar month containing asOf.
// A zero asOf means now.
func (s *TierService) Resolve(ctx context.Context, creatorID uuid.UUID, asOf time.Time) (TierResolution, error) {
	if asOf.IsZero() {
		asOf = clockOrReal(s.Clock).Now()
	}
	tiers, err := s.Tiers.List(ctx)
	if err != nil {
		return TierResolution{}, fmt.Errorf("list tiers: %w", err)
	}
	from, to := MonthWindow(asOf)
	revenue, err := s.Commissions.RevenueBetween(ctx, creatorID, from, to)
	if err != nil {
		return TierResolution{}, fmt.Errorf("monthly revenue: %w", err)
	}
	res, err := ResolveTier(tiers, revenue)
	if err != nil {
		return TierResolution{}, err
	}
	res.WindowStart, res.WindowEnd = from, to
	return res, nil
}
