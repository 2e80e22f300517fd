package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yeoskin/backend/internal/handlers"
	"github.com/yeoskin/backend/internal/models"
)

// Reader is the set of projections the creator endpoints serve.
type Reader interface {
	GetDashboard(ctx context.Context, creatorID uuid.UUID) (*Dashboard, error)
	GetForecast(ctx context.Context, creatorID uuid.UUID) (*Forecast, []string, error)
	GetLedger(ctx context.Context, creatorID uuid.UUID, limit, offset int, txType string) ([]*models.LedgerEntry, error)
	GetTimeline(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]TimelineEntry, error)
	GetRoutineBreakdown(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]RoutineStats, error)
}

var _ Reader = (*Aggregator)(nil)

// Handler serves /creators/{creatorID}/... Access control runs before it in the router.
type Handler struct {
	agg Reader
	log *slog.Logger
}

func NewHandler(agg Reader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{agg: agg, log: log}
}

// Routes mounts the creator projections on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", h.GetDashboard)
	r.Get("/forecast", h.GetForecast)
	r.Get("/ledger", h.ListLedger)
	r.Get("/timeline", h.ListTimeline)
	r.Get("/routines", h.ListRoutines)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := handlers.StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error(op+" failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func creatorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "creatorID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid creator id"})
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/creators/{creatorID}/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := creatorID(w, r)
	if !ok {
		return
	}
	d, err := h.agg.GetDashboard(r.Context(), id)
	if err != nil {
		h.fail(w, "get dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /api/v1/creators/{creatorID}/forecast
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	id, ok := creatorID(w, r)
	if !ok {
		return
	}
	f, degraded, err := h.agg.GetForecast(r.Context(), id)
	if err != nil {
		h.fail(w, "get forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forecast": f, "degraded": degraded})
}

// GET /api/v1/creators/{creatorID}/ledger?type=&limit=&offset=
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := creatorID(w, r)
	if !ok {
		return
	}
	limit, offset, err := handlers.Page(r)
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	entries, err := h.agg.GetLedger(r.Context(), id, limit, offset, r.URL.Query().Get("type"))
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/creators/{creatorID}/timeline?limit=&offset=
func (h *Handler) ListTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := creatorID(w, r)
	if !ok {
		return
	}
	limit, offset, err := handlers.Page(r)
	if err != nil {
		h.fail(w, "list timeline", err)
		return
	}
	entries, err := h.agg.GetTimeline(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, "list timeline", err)
		return
	}
	if entries == nil {
		entries = []TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/creators/{creatorID}/routines?limit=&offset=
func (h *Handler) ListRoutines(w http.ResponseWriter, r *http.Request) {
	id, ok := creatorID(w, r)
	if !ok {
		return
	}
	limit, offset, err := handlers.Page(r)
	if err != nil {
		h.fail(w, "routine breakdown", err)
		return
	}
	stats, err := h.agg.GetRoutineBreakdown(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, "routine breakdown", err)
		return
	}
	if stats == nil {
		stats = []RoutineStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}
