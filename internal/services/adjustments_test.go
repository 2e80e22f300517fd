package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

func TestAdjustBalance(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.10"))
	h.accrue(cr.ID, "ord-1", models.VariantBase, 50000)

	e, err := h.adjust.AdjustBalance(h.ctx, BalanceAdjustment{CreatorID: cr.ID, AmountCents: -1200, Reason: "  chargeback  "})
	require.NoError(t, err)
	assert.Equal(t, models.LedgerBalanceAdjustment, e.Type)
	assert.Equal(t, "chargeback", e.Description)
	assert.Equal(t, int64(5000-1200), h.store.Balance(cr.ID))

	_, err = h.adjust.AdjustBalance(h.ctx, BalanceAdjustment{CreatorID: cr.ID, AmountCents: 300, Reason: "refund", Kind: models.LedgerRefundProcessed})
	require.NoError(t, err)
	totals, err := h.ledger.Totals(h.ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-900), totals.AdjustmentsCents)
	assert.Equal(t, int64(5000), totals.EarnedCents)
}

func TestAdjustBalance_Validation(t *testing.T) {
	h := newHarness(t)
	cr := h.creator()
	cases := map[string]BalanceAdjustment{
		"no creator":  {AmountCents: 10, Reason: "x"},
		"zero amount": {CreatorID: cr.ID, Reason: "x"},
		"no reason":   {CreatorID: cr.ID, AmountCents: 10, Reason: "   "},
		"bad kind":    {CreatorID: cr.ID, AmountCents: 10, Reason: "x", Kind: models.LedgerPayoutSent},
	}
	for name, adj := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.adjust.AdjustBalance(h.ctx, adj)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
	_, err := h.adjust.AdjustBalance(h.ctx, BalanceAdjustment{CreatorID: uuid.New(), AmountCents: 10, Reason: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, h.store.LedgerEntries())
}

func TestAdjustCommission(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.10"), withLockDays(0))
	c := h.accrue(cr.ID, "ord-1", models.VariantBase, 50000)
	h.unlockAll()
	require.Equal(t, models.CommissionPayable, h.commission(c.ID).Status)

	got, err := h.adjust.AdjustCommission(h.ctx, c.ID, 4200, "partial return")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), got.AmountCents)
	assert.Equal(t, models.CommissionAdjusted, got.Status)

	adj := h.entriesOfType(cr.ID, models.LedgerCommissionAdjusted)
	require.Len(t, adj, 1)
	assert.Equal(t, int64(-800), adj[0].AmountCents)
	assert.Equal(t, int64(4200), h.store.Balance(cr.ID))
	h.checkInvariants()

	// Adjusted commissions are promoted again by the next pass.
	_, err = h.eligibility.Reclassify(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionPayable, h.commission(c.ID).Status)

	// Cancelling afterwards reverses the adjusted amount.
	res, err := h.accrual.CancelOrder(h.ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, res.Canceled, 1)
	assert.Zero(t, h.store.Balance(cr.ID))
	h.checkInvariants()
}

func TestAdjustCommission_Refusals(t *testing.T) {
	h := newHarness(t)
	cr, cs := payableCreator(h)

	_, err := h.adjust.AdjustCommission(h.ctx, cs[0].ID, cs[0].AmountCents, "same")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.adjust.AdjustCommission(h.ctx, cs[0].ID, -1, "negative")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.adjust.AdjustCommission(h.ctx, cs[0].ID, 10, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.adjust.AdjustCommission(h.ctx, uuid.New(), 10, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	res := h.runBatch()
	require.Len(t, res.Items, 1)
	_, err = h.adjust.AdjustCommission(h.ctx, cs[0].ID, 10, "claimed")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = h.payouts.SubmitItem(h.ctx, res.Items[0].ID)
	require.NoError(t, err)
	_, err = h.adjust.AdjustCommission(h.ctx, cs[1].ID, 10, "paid")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	assert.Empty(t, h.entriesOfType(cr.ID, models.LedgerCommissionAdjusted))
	h.checkInvariants()
}
