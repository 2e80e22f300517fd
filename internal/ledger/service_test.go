package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

type mockStore struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func (m *mockStore) AppendTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockStore) ListByCreator(_ context.Context, creatorID uuid.UUID, f Filter) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.CreatorID == creatorID && (f.Type == "" || e.Type == f.Type) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) SumByCreator(_ context.Context, creatorID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.CreatorID == creatorID {
			sum += e.AmountCents
		}
	}
	return sum, nil
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestAppend_SignRules(t *testing.T) {
	creator := uuid.New()
	commission := uuid.New()
	item := uuid.New()

	cases := []struct {
		name  string
		entry models.LedgerEntry
		ok    bool
	}{
		{"earned positive", models.LedgerEntry{Type: models.LedgerCommissionEarned, AmountCents: 1500, CommissionID: ptr(commission)}, true},
		{"earned negative", models.LedgerEntry{Type: models.LedgerCommissionEarned, AmountCents: -1, CommissionID: ptr(commission)}, false},
		{"earned without commission", models.LedgerEntry{Type: models.LedgerCommissionEarned, AmountCents: 10}, false},
		{"canceled negative", models.LedgerEntry{Type: models.LedgerCommissionCanceled, AmountCents: -1500, CommissionID: ptr(commission)}, true},
		{"canceled positive", models.LedgerEntry{Type: models.LedgerCommissionCanceled, AmountCents: 1500, CommissionID: ptr(commission)}, false},
		{"adjusted zero", models.LedgerEntry{Type: models.LedgerCommissionAdjusted, AmountCents: 0, CommissionID: ptr(commission)}, false},
		{"sent negative", models.LedgerEntry{Type: models.LedgerPayoutSent, AmountCents: -4000, PayoutItemID: ptr(item)}, true},
		{"sent positive", models.LedgerEntry{Type: models.LedgerPayoutSent, AmountCents: 4000, PayoutItemID: ptr(item)}, false},
		{"completed zero", models.LedgerEntry{Type: models.LedgerPayoutCompleted, AmountCents: 0, PayoutItemID: ptr(item)}, true},
		{"completed nonzero", models.LedgerEntry{Type: models.LedgerPayoutCompleted, AmountCents: -1, PayoutItemID: ptr(item)}, false},
		{"failed positive", models.LedgerEntry{Type: models.LedgerPayoutFailed, AmountCents: 4000, PayoutItemID: ptr(item)}, true},
		{"fee negative", models.LedgerEntry{Type: models.LedgerPayoutFee, AmountCents: -25, PayoutItemID: ptr(item)}, true},
		{"adjustment needs reason", models.LedgerEntry{Type: models.LedgerBalanceAdjustment, AmountCents: 100}, false},
		{"adjustment with reason", models.LedgerEntry{Type: models.LedgerBalanceAdjustment, AmountCents: -100, Description: "goodwill reversal"}, true},
		{"initiated never written", models.LedgerEntry{Type: models.LedgerPayoutInitiated, AmountCents: 0, PayoutItemID: ptr(item)}, false},
		{"unknown type", models.LedgerEntry{Type: "bonus", AmountCents: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{}
			svc := NewService(store, clockwork.NewFakeClock())
			e := tc.entry
			e.CreatorID = creator
			err := svc.Append(context.Background(), nil, &e)
			if tc.ok {
				require.NoError(t, err)
				assert.Len(t, store.entries, 1)
				assert.NotEqual(t, uuid.Nil, store.entries[0].ID)
			} else {
				require.Error(t, err)
				assert.Empty(t, store.entries)
			}
		})
	}
}

func TestReplay_ScenarioBThenC(t *testing.T) {
	creator := uuid.New()
	c1, c2, item := uuid.New(), uuid.New(), uuid.New()
	entries := []*models.LedgerEntry{
		{CreatorID: creator, Type: models.LedgerCommissionEarned, AmountCents: 1500, CommissionID: ptr(c1)},
		{CreatorID: creator, Type: models.LedgerCommissionEarned, AmountCents: 2500, CommissionID: ptr(c2)},
		{CreatorID: creator, Type: models.LedgerPayoutSent, AmountCents: -4000, PayoutItemID: ptr(item)},
	}
	tot := Replay(entries)
	assert.Equal(t, int64(0), tot.BalanceCents)
	assert.Equal(t, int64(4000), tot.EarnedCents)
	assert.Equal(t, int64(4000), tot.PaidCents)

	entries = append(entries, &models.LedgerEntry{CreatorID: creator, Type: models.LedgerPayoutFailed, AmountCents: 4000, PayoutItemID: ptr(item)})
	tot = Replay(entries)
	assert.Equal(t, int64(4000), tot.BalanceCents)
	assert.Equal(t, int64(0), tot.PaidCents)
}

func TestVerifyCommission(t *testing.T) {
	c := &models.Commission{ID: uuid.New(), AmountCents: 1500, Status: models.CommissionPending}
	entries := []*models.LedgerEntry{
		{Type: models.LedgerCommissionEarned, AmountCents: 1500, CommissionID: ptr(c.ID)},
		{Type: models.LedgerCommissionEarned, AmountCents: 999, CommissionID: ptr(uuid.New())},
	}
	require.NoError(t, VerifyCommission(entries, c))

	c.Status = models.CommissionCanceled
	assert.ErrorIs(t, VerifyCommission(entries, c), models.ErrInvariant)

	entries = append(entries, &models.LedgerEntry{Type: models.LedgerCommissionCanceled, AmountCents: -1500, CommissionID: ptr(c.ID)})
	require.NoError(t, VerifyCommission(entries, c))
}

func TestList_ValidatesFilter(t *testing.T) {
	svc := NewService(&mockStore{}, nil)
	_, err := svc.List(context.Background(), uuid.New(), Filter{Type: "nope"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.List(context.Background(), uuid.New(), Filter{Limit: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBalance_EqualsReplay(t *testing.T) {
	store := &mockStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(store, clock)
	creator := uuid.New()
	ctx := context.Background()
	for _, amt := range []int64{1500, 2500} {
		require.NoError(t, svc.Append(ctx, nil, &models.LedgerEntry{CreatorID: creator, Type: models.LedgerCommissionEarned, AmountCents: amt, CommissionID: ptr(uuid.New())}))
	}
	require.NoError(t, svc.Append(ctx, nil, &models.LedgerEntry{CreatorID: creator, Type: models.LedgerPayoutFee, AmountCents: -30}))

	bal, err := svc.Balance(ctx, creator)
	require.NoError(t, err)
	tot, err := svc.Totals(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, bal, tot.BalanceCents)
	assert.Equal(t, int64(3970), bal)
	assert.Equal(t, int64(30), tot.FeesCents)
	assert.Equal(t, clock.Now(), tot.LastEntryAt)
}
