package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttempts counts login attempts by outcome (ok, invalid, error).
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountserver_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TokenRedemptions counts activation and recovery code redemptions.
	TokenRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountserver_token_redemptions_total",
			Help: "Total number of single-use code redemptions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// AccountEvents counts lifecycle transitions (registered, verified, password_reset, deleted).
	AccountEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountserver_account_events_total",
			Help: "Total number of account lifecycle transitions",
		},
		[]string{"event"},
	)

	// NotificationFailures counts notifications that could not be delivered.
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountserver_notification_failures_total",
			Help: "Total number of notifications that failed to send",
		},
		[]string{"kind"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func ObserveLogin(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

func ObserveTokenRedeem(kind, outcome string) {
	TokenRedemptions.WithLabelValues(kind, outcome).Inc()
}

func ObserveAccountEvent(event string) {
	AccountEvents.WithLabelValues(event).Inc()
}

func ObserveNotificationFailure(kind string) {
	NotificationFailures.WithLabelValues(kind).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTP records request count and latency labelled by the chi route pattern.
func HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(sw.status)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
