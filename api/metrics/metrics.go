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
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "salesdesk_api_build_info",
			Help: "Build information of the SalesDesk API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesdesk_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "salesdesk_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	ClickHouseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_api_clickhouse_queries_total",
			Help: "Total number of ClickHouse queries executed",
		},
		[]string{"status"},
	)

	ClickHouseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesdesk_api_clickhouse_query_duration_seconds",
			Help:    "Duration of ClickHouse queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesdesk_api_chat_turns_total",
			Help: "Total number of chat turns processed, by answer mode",
		},
		[]string{"mode"},
	)

	ChatTurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesdesk_api_chat_turn_duration_seconds",
			Help:    "End-to-end duration of chat turns in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
)

// RecordClickHouseQuery records the outcome and duration of one query.
func RecordClickHouseQuery(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ClickHouseQueriesTotal.WithLabelValues(status).Inc()
	ClickHouseQueryDuration.Observe(duration.Seconds())
}

// RecordChatTurn records the outcome and duration of one chat turn.
func RecordChatTurn(mode string, duration time.Duration) {
	ChatTurnsTotal.WithLabelValues(mode).Inc()
	ChatTurnDuration.Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
