package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yeoskin/backend/internal/auth"
	"github.com/yeoskin/backend/internal/dashboard"
	"github.com/yeoskin/backend/internal/handlers"
	"github.com/yeoskin/backend/internal/middleware"
)

// New returns an http.Handler that serves the operator and creator API under /api/v1.
// Login is public; registering operators and everything under /admin needs an admin token;
// /creators/{creatorID} is open to admins and to that creator.
func New(authHandler *auth.Handler, tokens middleware.TokenValidator, admin *handlers.AdminHandler, dash *dashboard.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(tokens))

			r.With(middleware.RequireAdmin).Post("/auth/register", authHandler.Register)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				adminRoutes(r, admin)
			})

			r.Route("/creators/{creatorID}", func(r chi.Router) {
				r.Use(middleware.RequireCreatorAccess)
				dash.Routes(r)
			})
		})
	})
	return r
}

func adminRoutes(r chi.Router, h *handlers.AdminHandler) {
	r.Route("/creators", func(r chi.Router) {
		r.Post("/", h.CreateCreator)
		r.Get("/", h.ListCreators)
		r.Get("/{creatorID}", h.GetCreator)
		r.Patch("/{creatorID}", h.UpdateCreator)
		r.Post("/{creatorID}/bank-verification", h.SetBankVerified)
		r.Post("/{creatorID}/deactivate", h.DeactivateCreator)
	})
	r.Get("/tiers", h.ListTiers)

	r.Route("/payouts", func(r chi.Router) {
		r.Post("/batches", h.RunBatch)
		r.Get("/batches", h.ListBatches)
		r.Get("/batches/{batchID}", h.GetBatch)
		r.Get("/items", h.ListItems)
		r.Get("/items/{itemID}", h.GetItem)
		r.Post("/items/{itemID}/retry", h.RetryItem)
		r.Post("/reconcile", h.Reconcile)
	})

	r.Post("/adjustments", h.AdjustBalance)
	r.Post("/commissions/{commissionID}/adjust", h.AdjustCommission)

	r.Get("/issues", h.ListIssues)
	r.Post("/issues/{issueID}/resolve", h.ResolveIssue)
}
