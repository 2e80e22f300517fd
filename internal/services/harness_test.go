package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/provider"
	"github.com/yeoskin/backend/internal/retry"
	"github.com/yeoskin/backend/internal/testutil"
)

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testDestination = "NL91ABNA0417164300"

type recordingNotifier struct {
	mu     sync.Mutex
	issues []*models.ReconciliationIssue
}

func (n *recordingNotifier) IssueRaised(i *models.ReconciliationIssue) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issues = append(n.issues, i)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, i := range n.issues {
		out = append(out, i.Kind)
	}
	return out
}

type harness struct {
	t           *testing.T
	ctx         context.Context
	store       *testutil.Store
	clock       *clockwork.FakeClock
	bus         *events.Bus
	sandbox     *provider.Sandbox
	alerts      *recordingNotifier
	ledger      ledger.Service
	accrual     *AccrualService
	eligibility *EligibilityService
	payouts     *PayoutService
	adjust      *AdjustmentService
	creators    *CreatorService
	tiers       *TierService
	issues      *IssueService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(day0)
	store := testutil.NewStore(clock.Now)
	store.SeedTiers(
		&models.CommissionTier{Name: "Bronze", MinMonthlyRevenueCents: 0, Rate: decimal.RequireFromString("0.10")},
		&models.CommissionTier{Name: "Silver", MinMonthlyRevenueCents: 30000, Rate: decimal.RequireFromString("0.15")},
		&models.CommissionTier{Name: "Gold", MinMonthlyRevenueCents: 100000, Rate: decimal.RequireFromString("0.20")},
	)
	bus := events.NewBus()
	sandbox := provider.NewSandbox(clock)
	alerts := &recordingNotifier{}
	ledgerSvc := ledger.NewService(store.Ledger(), clock)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		clock:   clock,
		bus:     bus,
		sandbox: sandbox,
		alerts:  alerts,
		ledger:  ledgerSvc,
	}
	h.accrual = &AccrualService{
		Pool:        store,
		Creators:    store.Creators(),
		Tiers:       store.Tiers(),
		Commissions: store.Commissions(),
		Issues:      store.Issues(),
		Ledger:      ledgerSvc,
		Events:      bus,
		Alerts:      alerts,
		Clock:       clock,
		Currency:    "EUR",
	}
	h.eligibility = NewEligibilityService(store.Commissions(), bus, clock, nil)
	h.payouts = &PayoutService{
		Pool:            store,
		Creators:        store.Creators(),
		Commissions:     store.Commissions(),
		Payouts:         store.Payouts(),
		Issues:          store.Issues(),
		Ledger:          ledgerSvc,
		Provider:        sandbox,
		Events:          bus,
		Alerts:          alerts,
		Clock:           clock,
		Retry:           retry.Config{MaxAttempts: 3},
		MinimumCents:    1000,
		Currency:        "EUR",
		MaxConcurrency:  4,
		ProviderTimeout: time.Second,
		ReconcileAfter:  30 * time.Minute,
	}
	h.adjust = &AdjustmentService{
		Pool:        store,
		Creators:    store.Creators(),
		Commissions: store.Commissions(),
		Ledger:      ledgerSvc,
		Events:      bus,
		Clock:       clock,
	}
	h.creators = &CreatorService{Pool: store, Creators: store.Creators(), Events: bus, Clock: clock}
	h.tiers = NewTierService(store.Tiers(), store.Commissions(), clock)
	h.issues = NewIssueService(store.Issues(), clock)
	return h
}

type creatorOpt func(*models.Creator)

func withRate(r string) creatorOpt {
	return func(c *models.Creator) {
		d := decimal.RequireFromString(r)
		c.RateOverride = &d
	}
}

func withLockDays(n int) creatorOpt {
	return func(c *models.Creator) { c.LockDays = n }
}

func unverified() creatorOpt {
	return func(c *models.Creator) { c.BankVerified = false }
}

func (h *harness) creator(opts ...creatorOpt) *models.Creator {
	h.t.Helper()
	c := &models.Creator{
		ID:                uuid.New(),
		DiscountCode:      "CODE-" + uuid.NewString()[:8],
		DisplayName:       "Test Creator",
		LockDays:          30,
		PayoutDestination: testDestination,
		BankVerified:      true,
		Active:            true,
		CreatedAt:         h.clock.Now(),
		UpdatedAt:         h.clock.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	h.store.SeedCreator(c)
	return c
}

func (h *harness) accrue(creatorID uuid.UUID, orderID, variant string, gross int64) *models.Commission {
	h.t.Helper()
	c, err := h.accrual.Accrue(h.ctx, OrderCompleted{
		CreatorID:        creatorID,
		OrderID:          orderID,
		RoutineID:        "glow-routine",
		Variant:          variant,
		GrossAmountCents: gross,
		Currency:         "EUR",
	})
	require.NoError(h.t, err)
	return c
}

func (h *harness) commission(id uuid.UUID) *models.Commission {
	h.t.Helper()
	c, err := h.store.Commissions().GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) item(id uuid.UUID) *models.PayoutItem {
	h.t.Helper()
	it, err := h.store.Payouts().GetItem(h.ctx, id)
	require.NoError(h.t, err)
	return it
}

func (h *harness) entriesOfType(creatorID uuid.UUID, typ string) []*models.LedgerEntry {
	var out []*models.LedgerEntry
	for _, e := range h.store.LedgerEntries() {
		if e.CreatorID == creatorID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// checkInvariants verifies the ledger and settlement invariants over the whole store.
func (h *harness) checkInvariants() {
	h.t.Helper()
	entries := h.store.LedgerEntries()
	for _, c := range h.store.AllCommissions() {
		require.NoError(h.t, ledger.VerifyCommission(entries, c))
	}
	for id, n := range h.store.ActiveLinks() {
		require.LessOrEqual(h.t, n, 1, "commission %s claimed by %d active items", id, n)
	}
	byCreator := map[uuid.UUID]int64{}
	for _, e := range entries {
		byCreator[e.CreatorID] += e.AmountCents
	}
	for id, sum := range byCreator {
		bal, err := h.ledger.Balance(h.ctx, id)
		require.NoError(h.t, err)
		require.Equal(h.t, sum, bal)
	}
	for _, it := range h.store.AllItems() {
		if it.Status != models.ItemProcessing && it.Status != models.ItemCompleted {
			continue
		}
		var paid int64
		for _, cid := range it.CommissionIDs {
			c := h.commission(cid)
			require.Equal(h.t, models.CommissionPaid, c.Status)
			require.NotNil(h.t, c.PayoutItemID)
			require.Equal(h.t, it.ID, *c.PayoutItemID)
			paid += c.AmountCents
		}
		require.Equal(h.t, it.AmountCents, paid)
	}
}

// unlockAll advances past the default lock window and runs the eligibility pass.
func (h *harness) unlockAll() {
	h.t.Helper()
	h.clock.Advance(31 * 24 * time.Hour)
	_, err := h.eligibility.Reclassify(h.ctx)
	require.NoError(h.t, err)
}
