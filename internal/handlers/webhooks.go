package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/services"
)

// Accruer is the part of the accrual service the order webhooks use.
type Accruer interface {
	Accrue(ctx context.Context, ev services.OrderCompleted) (*models.Commission, error)
	CancelOrder(ctx context.Context, orderID string) (*services.CancelResult, error)
}

// CallbackHandler applies provider settlement callbacks.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb services.Callback) (*models.PayoutItem, error)
}

// PayloadValidator checks a raw body against the schema of kind.
type PayloadValidator interface {
	Validate(kind string, body []byte) error
}

// WebhookHandler serves the inbound integration endpoints: order events from the commerce
// system and settlement callbacks from the transfer provider.
type WebhookHandler struct {
	Accrual   Accruer
	Payouts   CallbackHandler
	Validator PayloadValidator
	Logger    *slog.Logger
}

// readValidated reads the body and validates it against kind before anything is decoded.
func (h *WebhookHandler) readValidated(w http.ResponseWriter, r *http.Request, kind string, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := h.Validator.Validate(kind, body); err != nil {
		if errors.Is(err, models.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		h.Logger.Error("validate payload", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// OrderCompleted handles POST /webhooks/orders/completed.
// Replays of an already-accrued order are acknowledged with 200 and write nothing.
func (h *WebhookHandler) OrderCompleted(w http.ResponseWriter, r *http.Request) {
	var ev services.OrderCompleted
	if !h.readValidated(w, r, services.PayloadOrderCompleted, &ev) {
		return
	}
	c, err := h.Accrual.Accrue(r.Context(), ev)
	if errors.Is(err, models.ErrDuplicateEvent) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "order_id": ev.OrderID})
		return
	}
	if err != nil {
		writeServiceError(w, h.Logger, "accrue commission", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type orderCanceledRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderCanceled handles POST /webhooks/orders/canceled. Cancellations that hit paid or
// in-flight commissions answer 409 with the partial result; those are queued for an operator.
func (h *WebhookHandler) OrderCanceled(w http.ResponseWriter, r *http.Request) {
	var req orderCanceledRequest
	if !h.readValidated(w, r, services.PayloadOrderCanceled, &req) {
		return
	}
	res, err := h.Accrual.CancelOrder(r.Context(), req.OrderID)
	if errors.Is(err, models.ErrSettledCancellation) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     err.Error(),
			"canceled":  res.Canceled,
			"conflicts": res.Conflicts,
		})
		return
	}
	if err != nil {
		writeServiceError(w, h.Logger, "cancel order", err)
		return
	}
	if req.Reason != "" {
		h.Logger.Info("order canceled", "order_id", req.OrderID, "reason", req.Reason)
	}
	writeJSON(w, http.StatusOK, res)
}

// PayoutCallback handles POST /webhooks/payouts. The body only names the transfer; its
// state is always re-read from the provider.
func (h *WebhookHandler) PayoutCallback(w http.ResponseWriter, r *http.Request) {
	var cb services.Callback
	if !h.readValidated(w, r, services.PayloadPayoutCallback, &cb) {
		return
	}
	item, err := h.Payouts.HandleCallback(r.Context(), cb)
	if err != nil {
		writeServiceError(w, h.Logger, "payout callback", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout_item_id": item.ID.String(), "status": item.Status})
}
