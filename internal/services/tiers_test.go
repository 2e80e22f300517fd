package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

func tier(name string, min int64, rate string) *models.CommissionTier {
	return &models.CommissionTier{ID: uuid.New(), Name: name, MinMonthlyRevenueCents: min, Rate: decimal.RequireFromString(rate)}
}

func TestResolveTier(t *testing.T) {
	tiers := []*models.CommissionTier{
		tier("Gold", 100000, "0.20"),
		tier("Bronze", 0, "0.10"),
		tier("Silver", 30000, "0.15"),
	}
	cases := []struct {
		name      string
		revenue   int64
		current   string
		next      string
		remaining int64
	}{
		{"zero revenue", 0, "Bronze", "Silver", 30000},
		{"exactly silver", 30000, "Silver", "Gold", 70000},
		{"between", 60000, "Silver", "Gold", 40000},
		{"top tier", 250000, "Gold", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ResolveTier(tiers, tc.revenue)
			require.NoError(t, err)
			assert.Equal(t, tc.current, res.Current.Name)
			if tc.next == "" {
				assert.Nil(t, res.Next)
			} else {
				require.NotNil(t, res.Next)
				assert.Equal(t, tc.next, res.Next.Name)
			}
			assert.Equal(t, tc.remaining, res.RemainingCents)
			assert.Equal(t, tc.revenue, res.RevenueCents)
		})
	}
}

func TestResolveTier_NoThresholdMet(t *testing.T) {
	tiers := []*models.CommissionTier{tier("Starter", 10000, "0.05"), tier("Pro", 50000, "0.12")}

	res, err := ResolveTier(tiers, 2500)
	require.NoError(t, err)
	assert.Equal(t, "Starter", res.Current.Name)
	require.NotNil(t, res.Next)
	assert.Equal(t, "Starter", res.Next.Name)
	assert.Equal(t, int64(7500), res.RemainingCents)
}

func TestResolveTier_ConfigurationErrors(t *testing.T) {
	_, err := ResolveTier(nil, 100)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = ResolveTier([]*models.CommissionTier{tier("A", 0, "0.1"), tier("B", 0, "0.2")}, 100)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestMonthWindow(t *testing.T) {
	from, to := MonthWindow(time.Date(2026, 12, 31, 23, 59, 0, 0, time.FixedZone("CET", 3600)))
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), to)
}

// A creator with €600 of commission this month sits in Silver, €400 short of Gold.
func TestTierService_Resolve_MonthlyRevenue(t *testing.T) {
	h := newHarness(t)
	c := h.creator()
	start, _ := MonthWindow(h.clock.Now())

	seed := func(amount int64, at time.Time, status string) {
		h.store.SeedCommission(&models.Commission{
			ID: uuid.New(), CreatorID: c.ID, OrderID: uuid.NewString(), Variant: models.VariantBase,
			AmountCents: amount, Status: status, Currency: "EUR", CreatedAt: at, UnlockAt: at,
		})
	}
	seed(25000, start.Add(time.Hour), models.CommissionPending)
	seed(35000, start.Add(48*time.Hour), models.CommissionPaid)
	seed(90000, start.Add(-time.Hour), models.CommissionPaid)   // previous month
	seed(50000, start.Add(time.Hour), models.CommissionCanceled) // canceled

	res, err := h.tiers.Resolve(h.ctx, c.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), res.RevenueCents)
	assert.Equal(t, "Silver", res.Current.Name)
	require.NotNil(t, res.Next)
	assert.Equal(t, "Gold", res.Next.Name)
	assert.Equal(t, int64(40000), res.RemainingCents)
	assert.Equal(t, start, res.WindowStart)
}

func TestTierService_List_Sorted(t *testing.T) {
	h := newHarness(t)
	tiers, err := h.tiers.List(h.ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	assert.Equal(t, "Bronze", tiers[0].Name)
	assert.Equal(t, "Gold", tiers[2].Name)
}
