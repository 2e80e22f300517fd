package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/provider"
	"github.com/yeoskin/backend/internal/retry"
	"github.com/yeoskin/backend/internal/services"
	"github.com/yeoskin/backend/internal/testutil"
)

// ---------------------------------------------------------------------------
// Fixture: real services over the in-memory store, routed without auth.
// ---------------------------------------------------------------------------

type fixture struct {
	t       *testing.T
	store   *testutil.Store
	clock   *clockwork.FakeClock
	router  http.Handler
	webhook *WebhookHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	store := testutil.NewStore(clock.Now)
	store.SeedTiers(&models.CommissionTier{Name: "Base", Rate: decimal.RequireFromString("0.10")})
	bus := events.NewBus()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerSvc := ledger.NewService(store.Ledger(), clock)
	validator, err := services.NewValidator()
	require.NoError(t, err)

	payouts := &services.PayoutService{
		Pool: store, Creators: store.Creators(), Commissions: store.Commissions(),
		Payouts: store.Payouts(), Issues: store.Issues(), Ledger: ledgerSvc,
		Provider: provider.NewSandbox(clock), Events: bus, Clock: clock,
		Retry: retry.Config{MaxAttempts: 2}, MinimumCents: 1000, Currency: "EUR",
		ProviderTimeout: time.Second, ReconcileAfter: time.Hour, Logger: log,
	}
	webhook := &WebhookHandler{
		Accrual: &services.AccrualService{
			Pool: store, Creators: store.Creators(), Tiers: store.Tiers(),
			Commissions: store.Commissions(), Issues: store.Issues(), Ledger: ledgerSvc,
			Events: bus, Clock: clock, Currency: "EUR", Logger: log,
		},
		Payouts:   payouts,
		Validator: validator,
		Logger:    log,
	}
	admin := &AdminHandler{
		Creators: &services.CreatorService{Pool: store, Creators: store.Creators(), Events: bus, Clock: clock, Logger: log},
		Tiers:    services.NewTierService(store.Tiers(), store.Commissions(), clock),
		Payouts:  payouts,
		Adjustments: &services.AdjustmentService{
			Pool: store, Creators: store.Creators(), Commissions: store.Commissions(),
			Ledger: ledgerSvc, Events: bus, Clock: clock, Logger: log,
		},
		Issues: services.NewIssueService(store.Issues(), clock),
		Logger: log,
	}

	r := chi.NewRouter()
	r.Post("/webhooks/orders/completed", webhook.OrderCompleted)
	r.Post("/webhooks/orders/canceled", webhook.OrderCanceled)
	r.Post("/webhooks/payouts", webhook.PayoutCallback)
	r.Post("/admin/creators", admin.CreateCreator)
	r.Get("/admin/creators", admin.ListCreators)
	r.Get("/admin/creators/{creatorID}", admin.GetCreator)
	r.Patch("/admin/creators/{creatorID}", admin.UpdateCreator)
	r.Post("/admin/creators/{creatorID}/bank-verification", admin.SetBankVerified)
	r.Post("/admin/creators/{creatorID}/deactivate", admin.DeactivateCreator)
	r.Get("/admin/tiers", admin.ListTiers)
	r.Post("/admin/payouts/batches", admin.RunBatch)
	r.Get("/admin/payouts/batches", admin.ListBatches)
	r.Get("/admin/payouts/batches/{batchID}", admin.GetBatch)
	r.Get("/admin/payouts/items", admin.ListItems)
	r.Get("/admin/payouts/items/{itemID}", admin.GetItem)
	r.Post("/admin/payouts/items/{itemID}/retry", admin.RetryItem)
	r.Post("/admin/payouts/reconcile", admin.Reconcile)
	r.Post("/admin/adjustments", admin.AdjustBalance)
	r.Post("/admin/commissions/{commissionID}/adjust", admin.AdjustCommission)
	r.Get("/admin/issues", admin.ListIssues)
	r.Post("/admin/issues/{issueID}/resolve", admin.ResolveIssue)

	return &fixture{t: t, store: store, clock: clock, router: r, webhook: webhook}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var rdr io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) creator(lockDays int) *models.Creator {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/admin/creators", map[string]interface{}{
		"discount_code":      "code-" + uuid.NewString()[:6],
		"display_name":       "Lea",
		"lock_days":          lockDays,
		"payout_destination": "NL91ABNA0417164300",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var c models.Creator
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &c))
	return &c
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func TestOrderCompleted(t *testing.T) {
	f := newFixture(t)
	c := f.creator(30)
	order := map[string]interface{}{
		"creator_id": c.ID, "order_id": "ord-1", "routine_id": "glow",
		"variant": "base", "gross_amount": 12000, "currency": "EUR",
	}

	rec := f.do(http.MethodPost, "/webhooks/orders/completed", order)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	com := decode[models.Commission](t, rec)
	assert.Equal(t, int64(1200), com.AmountCents)
	assert.Equal(t, models.CommissionPending, com.Status)

	rec = f.do(http.MethodPost, "/webhooks/orders/completed", order)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[map[string]string](t, rec)["status"])
	assert.Len(t, f.store.AllCommissions(), 1, "replay writes nothing")
}

func TestOrderCompleted_Rejections(t *testing.T) {
	f := newFixture(t)
	c := f.creator(30)

	cases := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing order id", map[string]interface{}{"creator_id": c.ID, "gross_amount": 100}, http.StatusBadRequest},
		{"negative amount", map[string]interface{}{"creator_id": c.ID, "order_id": "o", "gross_amount": -1}, http.StatusBadRequest},
		{"unknown variant", map[string]interface{}{"creator_id": c.ID, "order_id": "o", "gross_amount": 100, "variant": "upsell_9"}, http.StatusBadRequest},
		{"unknown field", map[string]interface{}{"creator_id": c.ID, "order_id": "o", "gross_amount": 100, "tip": 1}, http.StatusBadRequest},
		{"wrong currency", map[string]interface{}{"creator_id": c.ID, "order_id": "o", "gross_amount": 100, "currency": "USD"}, http.StatusUnprocessableEntity},
		{"unknown creator", map[string]interface{}{"creator_id": uuid.New(), "order_id": "o", "gross_amount": 100}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/webhooks/orders/completed", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, f.store.AllCommissions())
	assert.Empty(t, f.store.LedgerEntries())
}

func TestOrderCanceled(t *testing.T) {
	f := newFixture(t)
	c := f.creator(30)
	rec := f.do(http.MethodPost, "/webhooks/orders/completed", map[string]interface{}{
		"creator_id": c.ID, "order_id": "ord-9", "gross_amount": 5000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/orders/canceled", map[string]string{"order_id": "ord-9", "reason": "returned"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.CancelResult](t, rec)
	require.Len(t, res.Canceled, 1)
	assert.Equal(t, int64(0), f.store.Balance(c.ID))

	rec = f.do(http.MethodPost, "/webhooks/orders/canceled", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type settledAccruer struct{ services.CancelResult }

func (settledAccruer) Accrue(context.Context, services.OrderCompleted) (*models.Commission, error) {
	return nil, models.ErrConfiguration
}

func (s settledAccruer) CancelOrder(context.Context, string) (*services.CancelResult, error) {
	return &s.CancelResult, models.ErrSettledCancellation
}

func TestOrderCanceled_SettledConflict(t *testing.T) {
	f := newFixture(t)
	paid := &models.Commission{ID: uuid.New(), Status: models.CommissionPaid}
	f.webhook.Accrual = settledAccruer{services.CancelResult{Conflicts: []*models.Commission{paid}}}

	rec := f.do(http.MethodPost, "/webhooks/orders/canceled", map[string]string{"order_id": "ord-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), paid.ID.String())

	rec = f.do(http.MethodPost, "/webhooks/orders/completed", map[string]interface{}{
		"creator_id": uuid.New(), "order_id": "o", "gross_amount": 1,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "configuration", "internal errors are not exposed")
}

func TestPayoutCallback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/payouts", map[string]interface{}{"transfer_id": "tr_x", "status": "exploded"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/payouts", map[string]interface{}{"transfer_id": "tr_unknown", "status": "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdminCreators(t *testing.T) {
	f := newFixture(t)
	c := f.creator(0)
	assert.False(t, c.BankVerified)

	rec := f.do(http.MethodPost, "/admin/creators", map[string]interface{}{"discount_code": c.DiscountCode})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(http.MethodPost, "/admin/creators", map[string]interface{}{"display_name": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/admin/creators/"+c.ID.String()+"/bank-verification", map[string]bool{"verified": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Creator](t, rec).BankVerified)

	rec = f.do(http.MethodPatch, "/admin/creators/"+c.ID.String(), map[string]string{"display_name": "Lea B."})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lea B.", decode[models.Creator](t, rec).DisplayName)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/creators/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/creators/"+uuid.NewString(), nil).Code)

	rec = f.do(http.MethodPost, "/admin/creators/"+c.ID.String()+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/admin/creators?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Creator](t, rec))

	rec = f.do(http.MethodGet, "/admin/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.CommissionTier](t, rec), 1)
}

func TestAdminPayoutFlow(t *testing.T) {
	f := newFixture(t)
	c := f.creator(0)
	require.Equal(t, http.StatusOK,
		f.do(http.MethodPost, "/admin/creators/"+c.ID.String()+"/bank-verification", map[string]bool{"verified": true}).Code)
	for i, gross := range []int64{60000, 40000} {
		rec := f.do(http.MethodPost, "/webhooks/orders/completed", map[string]interface{}{
			"creator_id": c.ID, "order_id": "ord-" + string(rune('a'+i)), "gross_amount": gross,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := f.do(http.MethodPost, "/admin/payouts/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Lock window 0: the eligibility pass is driven through the service directly.
	elig := services.NewEligibilityService(f.store.Commissions(), nil, f.clock, nil)
	_, err := elig.Reclassify(context.Background())
	require.NoError(t, err)

	rec = f.do(http.MethodPost, "/admin/payouts/batches", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[services.BatchResult](t, rec)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, int64(10000), item.AmountCents)
	assert.Contains(t, res.Batch.TriggeredBy, "operator")

	rec = f.do(http.MethodGet, "/admin/payouts/batches/"+res.Batch.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.BatchView](t, rec)
	assert.Len(t, view.Items, 1)
	assert.False(t, view.HasMore)

	rec = f.do(http.MethodGet, "/admin/payouts/batches/"+res.Batch.ID.String()+"?offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[services.BatchView](t, rec).Items)

	rec = f.do(http.MethodGet, "/admin/payouts/batches/"+res.Batch.ID.String()+"?limit=-2", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/admin/payouts/items?creator_id="+c.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.PayoutItem](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/payouts/items?batch_id=x", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/admin/payouts/items?status=lost", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/admin/payouts/batches?limit=many", nil).Code)

	rec = f.do(http.MethodPost, "/admin/payouts/items/"+item.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "only failed items can be retried")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/payouts/items/"+uuid.NewString(), nil).Code)
}

func TestAdminAdjustmentsAndIssues(t *testing.T) {
	f := newFixture(t)
	c := f.creator(30)

	rec := f.do(http.MethodPost, "/admin/adjustments", map[string]interface{}{
		"creator_id": c.ID, "amount_cents": 250, "reason": "goodwill",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(250), f.store.Balance(c.ID))

	rec = f.do(http.MethodPost, "/admin/adjustments", map[string]interface{}{"creator_id": c.ID, "amount_cents": 250})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "reason is required")

	rec = f.do(http.MethodPost, "/admin/commissions/"+uuid.NewString()+"/adjust", map[string]interface{}{
		"amount_cents": 10, "reason": "fix",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/admin/issues?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.ReconciliationIssue](t, rec))

	rec = f.do(http.MethodPost, "/admin/issues/"+uuid.NewString()+"/resolve", map[string]string{"resolution": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = f.do(http.MethodPost, "/admin/issues/"+uuid.NewString()+"/resolve", map[string]string{"resolution": "refunded"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.Invalid("x"):             http.StatusUnprocessableEntity,
		models.ErrNotFound:              http.StatusNotFound,
		models.ErrSettledCancellation:   http.StatusConflict,
		models.ErrInvalidTransition:     http.StatusConflict,
		models.ErrDestinationUnverified: http.StatusConflict,
		models.ErrConfiguration:         http.StatusInternalServerError,
		models.ErrInvariant:             http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
