package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/yeoskin/backend/internal/config"
	"github.com/yeoskin/backend/internal/handlers"
	"github.com/yeoskin/backend/internal/metrics"
	"github.com/yeoskin/backend/internal/middleware"
)

// Pinger reports database reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// newMux wires the operational endpoints and the webhooks around the JWT API.
func newMux(api http.Handler, webhooks *handlers.WebhookHandler, integrations config.IntegrationsConfig, db Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	RegisterWebhookRoutes(r, webhooks, integrations)
	r.Mount("/", api)
	return r
}

// RegisterWebhookRoutes adds the integration endpoints.
// Middleware chain: APIKeyAuth -> per-key rate limit -> schema validation in the handler.
func RegisterWebhookRoutes(r chi.Router, h *handlers.WebhookHandler, integrations config.IntegrationsConfig) {
	limiter := middleware.NewRateLimiter(rate.Limit(integrations.RatePerSecond), integrations.Burst)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(integrations.APIKeyHashes))
		r.Use(limiter.Middleware)
		r.Post("/orders/completed", h.OrderCompleted)
		r.Post("/orders/canceled", h.OrderCanceled)
		r.Post("/payouts", h.PayoutCallback)
	})
}
