package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookstore_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	checkoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_checkout_sessions_total",
		Help: "Checkout sessions opened, by result",
	}, []string{"result"})

	paymentConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_payment_confirmations_total",
		Help: "Payment confirmations and webhook settlements, by resulting transaction status",
	}, []string{"status"})

	expiredTransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookstore_expired_transactions_total",
		Help: "Pending transactions expired by the sweeper",
	})
)

// instrument records request count and latency per chi route pattern, so
// /api/books/{id} is one series rather than one per book.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			route := routePattern(r)
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(v)
		}))

		next.ServeHTTP(ww, r)

		timer.ObserveDuration()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(status)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
