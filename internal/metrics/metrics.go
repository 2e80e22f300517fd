package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yeoskin_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CommissionsAccruedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_commissions_accrued_total",
			Help: "Commissions created from order events",
		},
		[]string{"variant"},
	)

	CommissionsCanceledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yeoskin_commissions_canceled_total",
			Help: "Commissions canceled by order refunds or voids",
		},
	)

	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yeoskin_duplicate_order_events_total",
			Help: "Replayed order events absorbed without accrual",
		},
	)

	CommissionsUnlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yeoskin_commissions_unlocked_total",
			Help: "Commissions promoted to payable by the eligibility pass",
		},
	)

	PayoutItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_payout_items_total",
			Help: "Payout item transitions by resulting status",
		},
		[]string{"status"},
	)

	PayoutAmountCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_payout_amount_cents_total",
			Help: "Payout amounts by resulting status, in minor units",
		},
		[]string{"status"},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_provider_calls_total",
			Help: "Transfer provider calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yeoskin_provider_call_duration_seconds",
			Help:    "Duration of transfer provider calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"op"},
	)

	ReconciliationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_reconciliation_issues_total",
			Help: "Issues raised to the operator queue",
		},
		[]string{"kind"},
	)

	DashboardCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yeoskin_dashboard_cache_total",
			Help: "Dashboard cache lookups by result",
		},
		[]string{"result"},
	)
)

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordProviderCall records the outcome of one transfer provider call.
func RecordProviderCall(op string, duration time.Duration, outcome string) {
	ProviderCallsTotal.WithLabelValues(op, outcome).Inc()
	ProviderCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPayoutItem records an item transition.
func RecordPayoutItem(status string, amountCents int64) {
	PayoutItemsTotal.WithLabelValues(status).Inc()
	PayoutAmountCents.WithLabelValues(status).Add(float64(amountCents))
}

func RecordIssue(kind string) {
	ReconciliationIssuesTotal.WithLabelValues(kind).Inc()
}
