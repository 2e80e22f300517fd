package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/yeoskin/backend/internal/middleware"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/repository"
	"github.com/yeoskin/backend/internal/services"
)

type CreatorAdmin interface {
	Create(ctx context.Context, in services.CreateCreatorInput) (*models.Creator, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Creator, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Creator, error)
	Update(ctx context.Context, id uuid.UUID, in services.UpdateCreatorInput) (*models.Creator, error)
	SetBankVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.Creator, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*models.Creator, error)
}

type TierLister interface {
	List(ctx context.Context) ([]*models.CommissionTier, error)
}

type PayoutAdmin interface {
	RunBatch(ctx context.Context, req services.BatchRequest) (*services.BatchResult, error)
	GetBatch(ctx context.Context, id uuid.UUID, limit, offset int) (*services.BatchView, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.PayoutBatch, error)
	ListItems(ctx context.Context, f repository.ItemFilter) ([]*models.PayoutItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.PayoutItem, error)
	RetryItem(ctx context.Context, failedItemID uuid.UUID, triggeredBy string) (*models.PayoutItem, error)
	ReconcileStale(ctx context.Context) (services.ReconcileReport, error)
}

type Adjuster interface {
	AdjustBalance(ctx context.Context, adj services.BalanceAdjustment) (*models.LedgerEntry, error)
	AdjustCommission(ctx context.Context, commissionID uuid.UUID, newAmountCents int64, reason string) (*models.Commission, error)
}

type IssueAdmin interface {
	List(ctx context.Context, status string, limit, offset int) ([]*models.ReconciliationIssue, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string) (*models.ReconciliationIssue, error)
}

// AdminHandler serves the operator endpoints under /admin.
type AdminHandler struct {
	Creators    CreatorAdmin
	Tiers       TierLister
	Payouts     PayoutAdmin
	Adjustments Adjuster
	Issues      IssueAdmin
	Logger      *slog.Logger
}

// operator names the caller in audit fields such as triggered_by.
func operator(r *http.Request) string {
	if c := middleware.ClaimsFromCtx(r.Context()); c != nil {
		return "operator:" + c.OperatorID.String()
	}
	return "operator"
}

// --- creators ---

func (h *AdminHandler) CreateCreator(w http.ResponseWriter, r *http.Request) {
	var in services.CreateCreatorInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.Creators.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.Logger, "create creator", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *AdminHandler) ListCreators(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	list, err := h.Creators.List(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, h.Logger, "list creators", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) GetCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "creatorID")
	if !ok {
		return
	}
	c, err := h.Creators.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, "get creator", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) UpdateCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "creatorID")
	if !ok {
		return
	}
	var in services.UpdateCreatorInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.Creators.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, h.Logger, "update creator", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type bankVerificationRequest struct {
	Verified bool `json:"verified"`
}

func (h *AdminHandler) SetBankVerified(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "creatorID")
	if !ok {
		return
	}
	var req bankVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Creators.SetBankVerified(r.Context(), id, req.Verified)
	if err != nil {
		writeServiceError(w, h.Logger, "set bank verification", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) DeactivateCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "creatorID")
	if !ok {
		return
	}
	c, err := h.Creators.Deactivate(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, "deactivate creator", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.Tiers.List(r.Context())
	if err != nil {
		writeServiceError(w, h.Logger, "list tiers", err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

// --- payouts ---

// RunBatch handles POST /admin/payouts/batches. An empty body pays every eligible creator.
func (h *AdminHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req services.BatchRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = operator(r)
	}
	res, err := h.Payouts.RunBatch(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.Logger, "run payout batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AdminHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := Page(r)
	if err != nil {
		writeServiceError(w, h.Logger, "list batches", err)
		return
	}
	list, err := h.Payouts.ListBatches(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.Logger, "list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}
	limit, offset, err := Page(r)
	if err != nil {
		writeServiceError(w, h.Logger, "get batch", err)
		return
	}
	view, err := h.Payouts.GetBatch(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, h.Logger, "get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AdminHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.ItemFilter{Status: q.Get("status")}
	var err error
	if f.Limit, f.Offset, err = Page(r); err != nil {
		writeServiceError(w, h.Logger, "list payout items", err)
		return
	}
	for name, dst := range map[string]**uuid.UUID{"creator_id": &f.CreatorID, "batch_id": &f.BatchID} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = &id
	}
	items, err := h.Payouts.ListItems(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.Logger, "list payout items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	it, err := h.Payouts.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, "get payout item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *AdminHandler) RetryItem(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	it, err := h.Payouts.RetryItem(r.Context(), id, operator(r))
	if err != nil {
		writeServiceError(w, h.Logger, "retry payout item", err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Payouts.ReconcileStale(r.Context())
	if err != nil {
		writeServiceError(w, h.Logger, "reconcile payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- adjustments ---

func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var adj services.BalanceAdjustment
	if !decodeJSON(w, r, &adj) {
		return
	}
	e, err := h.Adjustments.AdjustBalance(r.Context(), adj)
	if err != nil {
		writeServiceError(w, h.Logger, "adjust balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type commissionAdjustmentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

func (h *AdminHandler) AdjustCommission(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "commissionID")
	if !ok {
		return
	}
	var req commissionAdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Adjustments.AdjustCommission(r.Context(), id, req.AmountCents, req.Reason)
	if err != nil {
		writeServiceError(w, h.Logger, "adjust commission", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- reconciliation issues ---

func (h *AdminHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := Page(r)
	if err != nil {
		writeServiceError(w, h.Logger, "list issues", err)
		return
	}
	list, err := h.Issues.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, h.Logger, "list issues", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveIssueRequest struct {
	Resolution string `json:"resolution"`
}

func (h *AdminHandler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "issueID")
	if !ok {
		return
	}
	var req resolveIssueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	i, err := h.Issues.Resolve(r.Context(), id, req.Resolution)
	if err != nil {
		writeServiceError(w, h.Logger, "resolve issue", err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}
