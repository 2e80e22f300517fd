package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/models"
)

// Scenario A: €100 at 15% with a 30 day lock.
func TestAccrue_LockWindow(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"), withLockDays(30))

	c := h.accrue(cr.ID, "ord-100", models.VariantBase, 10000)
	assert.Equal(t, int64(1500), c.AmountCents)
	assert.Equal(t, models.CommissionPending, c.Status)
	assert.Equal(t, day0.Add(30*24*time.Hour), c.UnlockAt)

	earned := h.entriesOfType(cr.ID, models.LedgerCommissionEarned)
	require.Len(t, earned, 1)
	assert.Equal(t, int64(1500), earned[0].AmountCents)
	assert.Equal(t, c.ID, *earned[0].CommissionID)

	h.clock.Advance(29 * 24 * time.Hour)
	n, err := h.eligibility.Reclassify(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	pos, err := h.eligibility.Position(h.ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, Bucket{Count: 1, AmountCents: 1500}, pos.Pending)
	assert.Equal(t, Bucket{Count: 1, AmountCents: 1500}, pos.Locked)
	assert.Zero(t, pos.Payable.AmountCents)

	h.clock.Advance(2 * 24 * time.Hour)
	n, err = h.eligibility.Reclassify(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.CommissionPayable, h.commission(c.ID).Status)
	pos, err = h.eligibility.Position(h.ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, Bucket{Count: 1, AmountCents: 1500}, pos.Payable)
	assert.Zero(t, pos.Locked.Count)

	// A second pass changes nothing.
	n, err = h.eligibility.Reclassify(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.store.LedgerEntries(), 1)
}

func TestAccrue_DuplicateEventIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	ev := OrderCompleted{CreatorID: cr.ID, OrderID: "ord-1", Variant: models.VariantBase, GrossAmountCents: 10000, Currency: "EUR"}

	_, err := h.accrual.Accrue(h.ctx, ev)
	require.NoError(t, err)
	_, err = h.accrual.Accrue(h.ctx, ev)
	assert.ErrorIs(t, err, models.ErrDuplicateEvent)

	assert.Len(t, h.store.AllCommissions(), 1)
	assert.Len(t, h.entriesOfType(cr.ID, models.LedgerCommissionEarned), 1)

	// The same order with another variant is a separate line.
	ev.Variant = models.VariantUpsell1
	_, err = h.accrual.Accrue(h.ctx, ev)
	require.NoError(t, err)
	assert.Len(t, h.store.AllCommissions(), 2)
}

func TestAccrue_UsesTierRateWithoutOverride(t *testing.T) {
	h := newHarness(t)
	cr := h.creator()

	// Bronze at 10% until this month's commission reaches the Silver threshold.
	first := h.accrue(cr.ID, "ord-1", models.VariantBase, 300000)
	assert.Equal(t, "0.1", first.Rate.String())
	assert.Equal(t, int64(30000), first.AmountCents)

	second := h.accrue(cr.ID, "ord-2", models.VariantBase, 10000)
	assert.Equal(t, "0.15", second.Rate.String())
	assert.Equal(t, int64(1500), second.AmountCents)
}

func TestAccrue_RoundsHalfUp(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))

	c := h.accrue(cr.ID, "ord-1", models.VariantBase, 1003) // 150.45
	assert.Equal(t, int64(150), c.AmountCents)
	c = h.accrue(cr.ID, "ord-2", models.VariantBase, 1010) // 151.5
	assert.Equal(t, int64(152), c.AmountCents)
}

func TestAccrue_Validation(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	inactive := h.creator()
	_, err := h.creators.Deactivate(h.ctx, inactive.ID)
	require.NoError(t, err)

	cases := []struct {
		name string
		ev   OrderCompleted
		want error
	}{
		{"negative gross", OrderCompleted{CreatorID: cr.ID, OrderID: "o", GrossAmountCents: -100}, models.ErrValidation},
		{"zero gross", OrderCompleted{CreatorID: cr.ID, OrderID: "o"}, models.ErrValidation},
		{"missing order", OrderCompleted{CreatorID: cr.ID, GrossAmountCents: 100}, models.ErrValidation},
		{"missing creator", OrderCompleted{OrderID: "o", GrossAmountCents: 100}, models.ErrValidation},
		{"unknown variant", OrderCompleted{CreatorID: cr.ID, OrderID: "o", Variant: "upsell_9", GrossAmountCents: 100}, models.ErrValidation},
		{"foreign currency", OrderCompleted{CreatorID: cr.ID, OrderID: "o", GrossAmountCents: 100, Currency: "USD"}, models.ErrValidation},
		{"unknown creator", OrderCompleted{CreatorID: uuid.New(), OrderID: "o", GrossAmountCents: 100}, models.ErrNotFound},
		{"inactive creator", OrderCompleted{CreatorID: inactive.ID, OrderID: "o", GrossAmountCents: 100}, models.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.accrual.Accrue(h.ctx, tc.ev)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, h.store.AllCommissions())
	assert.Empty(t, h.store.LedgerEntries())
}

func TestAccrue_EmptyTierTableIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	h.store.SeedTiers()
	cr := h.creator()

	_, err := h.accrual.Accrue(h.ctx, OrderCompleted{CreatorID: cr.ID, OrderID: "o", GrossAmountCents: 100})
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Empty(t, h.store.AllCommissions())
}

func TestAccrue_LedgerFailureRollsBackCommission(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	boom := errors.New("disk full")
	h.store.FailOn("ledger.append", boom)

	_, err := h.accrual.Accrue(h.ctx, OrderCompleted{CreatorID: cr.ID, OrderID: "o", GrossAmountCents: 10000})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.store.AllCommissions())
	assert.Empty(t, h.store.LedgerEntries())

	h.store.FailOn("ledger.append", nil)
	h.accrue(cr.ID, "o", models.VariantBase, 10000)
	h.checkInvariants()
}

func TestAccrue_PublishesAfterCommit(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	var got []events.Event
	unsubscribe := h.bus.Subscribe(func(e events.Event) { got = append(got, e) })
	defer unsubscribe()

	c := h.accrue(cr.ID, "o", models.VariantBase, 10000)
	require.Len(t, got, 2)
	assert.Equal(t, events.KindLedgerAppended, got[0].Kind)
	assert.Equal(t, cr.ID, got[0].CreatorID)
	assert.Equal(t, c.ID, got[1].Ref)
	assert.Equal(t, models.CommissionPending, got[1].Status)
}

// Scenario D: refund of a pending €15.00 commission nets to zero.
func TestCancelOrder_PendingCommission(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	c := h.accrue(cr.ID, "ord-9", models.VariantBase, 10000)
	up := h.accrue(cr.ID, "ord-9", models.VariantUpsell1, 4000)

	res, err := h.accrual.CancelOrder(h.ctx, "ord-9")
	require.NoError(t, err)
	assert.Len(t, res.Canceled, 2)
	assert.Empty(t, res.Conflicts)

	got := h.commission(c.ID)
	assert.Equal(t, models.CommissionCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)
	canceled := h.entriesOfType(cr.ID, models.LedgerCommissionCanceled)
	require.Len(t, canceled, 2)
	entries := h.store.LedgerEntries()
	assert.Zero(t, ledger.CommissionNet(entries, c.ID))
	assert.Zero(t, ledger.CommissionNet(entries, up.ID))
	assert.Zero(t, h.store.Balance(cr.ID))

	// Replayed cancellation is a no-op.
	res, err = h.accrual.CancelOrder(h.ctx, "ord-9")
	require.NoError(t, err)
	assert.Empty(t, res.Canceled)
	assert.Len(t, h.entriesOfType(cr.ID, models.LedgerCommissionCanceled), 2)
	h.checkInvariants()
}

func TestCancelOrder_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	res, err := h.accrual.CancelOrder(h.ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, res.Canceled)

	_, err = h.accrual.CancelOrder(h.ctx, " ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCancelOrder_PaidCommissionIsAConflict(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"), withLockDays(0))
	c := h.accrue(cr.ID, "ord-1", models.VariantBase, 10000)
	h.accrue(cr.ID, "ord-2", models.VariantBase, 10000)
	h.unlockAll()

	batch, err := h.payouts.RunBatch(h.ctx, BatchRequest{})
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	_, err = h.payouts.SubmitItem(h.ctx, batch.Items[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.CommissionPaid, h.commission(c.ID).Status)
	balance := h.store.Balance(cr.ID)

	res, err := h.accrual.CancelOrder(h.ctx, "ord-1")
	assert.ErrorIs(t, err, models.ErrSettledCancellation)
	require.NotNil(t, res)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, models.CommissionPaid, h.commission(c.ID).Status)
	assert.Equal(t, balance, h.store.Balance(cr.ID))

	issues := h.store.AllIssues()
	require.Len(t, issues, 1)
	assert.Equal(t, models.IssueSettledCancellation, issues[0].Kind)
	assert.Equal(t, c.ID, *issues[0].CommissionID)
	assert.Equal(t, []string{models.IssueSettledCancellation}, h.alerts.kinds())

	// Redelivery does not open a second issue.
	_, err = h.accrual.CancelOrder(h.ctx, "ord-1")
	assert.ErrorIs(t, err, models.ErrSettledCancellation)
	assert.Len(t, h.store.AllIssues(), 1)
	h.checkInvariants()
}

func TestCancelOrder_AttachedCommissionIsAConflict(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"), withLockDays(0))
	c := h.accrue(cr.ID, "ord-1", models.VariantBase, 10000)
	h.unlockAll()

	_, err := h.payouts.RunBatch(h.ctx, BatchRequest{})
	require.NoError(t, err)
	require.True(t, h.commission(c.ID).Attached())

	res, err := h.accrual.CancelOrder(h.ctx, "ord-1")
	assert.ErrorIs(t, err, models.ErrSettledCancellation)
	assert.Len(t, res.Conflicts, 1)
	assert.Equal(t, models.CommissionPayable, h.commission(c.ID).Status)
}

func TestCancelOrder_AcrossCreators(t *testing.T) {
	h := newHarness(t)
	a := h.creator(withRate("0.10"))
	b := h.creator(withRate("0.20"))
	h.accrue(a.ID, "shared", models.VariantBase, 10000)
	h.accrue(b.ID, "shared", models.VariantBase, 10000)

	res, err := h.accrual.CancelOrder(h.ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, res.Canceled, 2)
	assert.Zero(t, h.store.Balance(a.ID))
	assert.Zero(t, h.store.Balance(b.ID))
}

func TestCancelOrder_LedgerFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	cr := h.creator(withRate("0.15"))
	c := h.accrue(cr.ID, "ord-1", models.VariantBase, 10000)
	h.store.FailOn("ledger.append", errors.New("boom"))

	_, err := h.accrual.CancelOrder(h.ctx, "ord-1")
	require.Error(t, err)
	assert.Equal(t, models.CommissionPending, h.commission(c.ID).Status)
	assert.Equal(t, int64(1500), h.store.Balance(cr.ID))
}
