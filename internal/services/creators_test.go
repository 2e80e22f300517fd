package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestCreatorService_Create(t *testing.T) {
	h := newHarness(t)
	c, err := h.creators.Create(h.ctx, CreateCreatorInput{
		DiscountCode:      " glowwithana ",
		DisplayName:       "Ana",
		RateOverride:      strPtr("0.12"),
		PayoutDestination: testDestination,
	})
	require.NoError(t, err)
	assert.Equal(t, "GLOWWITHANA", c.DiscountCode)
	assert.Equal(t, DefaultLockDays, c.LockDays)
	require.NotNil(t, c.RateOverride)
	assert.Equal(t, "0.12", c.RateOverride.String())
	assert.False(t, c.BankVerified, "destinations start unverified")
	assert.True(t, c.Active)

	_, err = h.creators.Create(h.ctx, CreateCreatorInput{DiscountCode: "GlowWithAna"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestCreatorService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]CreateCreatorInput{
		"no code":       {DisplayName: "x"},
		"negative lock": {DiscountCode: "A", LockDays: intPtr(-1)},
		"rate above 1":  {DiscountCode: "B", RateOverride: strPtr("1.5")},
		"rate garbage":  {DiscountCode: "C", RateOverride: strPtr("ten percent")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.creators.Create(h.ctx, in)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestCreatorService_Update(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.30"))

	got, err := h.creators.Update(h.ctx, cr.ID, UpdateCreatorInput{DisplayName: strPtr("Renamed"), LockDays: intPtr(14)})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)
	assert.Equal(t, 14, got.LockDays)
	assert.True(t, got.BankVerified)
	require.NotNil(t, got.RateOverride)

	got, err = h.creators.Update(h.ctx, cr.ID, UpdateCreatorInput{RateOverride: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, got.RateOverride)

	// The same destination keeps verification; a new one clears it.
	got, err = h.creators.Update(h.ctx, cr.ID, UpdateCreatorInput{PayoutDestination: strPtr(testDestination)})
	require.NoError(t, err)
	assert.True(t, got.BankVerified)
	got, err = h.creators.Update(h.ctx, cr.ID, UpdateCreatorInput{PayoutDestination: strPtr("DE89370400440532013000")})
	require.NoError(t, err)
	assert.False(t, got.BankVerified)
	assert.False(t, got.CanReceivePayouts())

	_, err = h.creators.Update(h.ctx, uuid.New(), UpdateCreatorInput{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreatorService_BankVerification(t *testing.T) {
	h := newHarness(t)
	noDest := h.creator(unverified(), func(c *models.Creator) { c.PayoutDestination = "" })
	_, err := h.creators.SetBankVerified(h.ctx, noDest.ID, true)
	assert.ErrorIs(t, err, models.ErrValidation)

	cr := h.creator(unverified())
	got, err := h.creators.SetBankVerified(h.ctx, cr.ID, true)
	require.NoError(t, err)
	assert.True(t, got.CanReceivePayouts())
}

func TestCreatorService_DeactivateStopsAccrualAndPayouts(t *testing.T) {
	h := newHarness(t)
	cr, _ := payableCreator(h)
	_, err := h.creators.Deactivate(h.ctx, cr.ID)
	require.NoError(t, err)

	_, err = h.accrual.Accrue(h.ctx, OrderCompleted{CreatorID: cr.ID, OrderID: "after", GrossAmountCents: 1000})
	assert.ErrorIs(t, err, models.ErrValidation)
	res := h.runBatch()
	assert.Empty(t, res.Items)

	active, err := h.creators.List(h.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := h.creators.List(h.ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
