package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	OutcomeCreated         = "created"
	OutcomeDuplicate       = "duplicate"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeUnknownSource   = "unknown_source"
	OutcomeInvalid         = "invalid"
	OutcomeUnavailable     = "unavailable"
	OutcomeRateLimited     = "rate_limited"
	OutcomeLockedOut       = "locked_out"
	OutcomeError           = "error"
)

// UnknownSourceLabel replaces unconfigured source names so arbitrary paths
// cannot grow label cardinality.
const UnknownSourceLabel = "_unknown"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookd_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookd_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookd_webhook_deliveries_total",
			Help: "Webhook deliveries by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookd_webhook_auth_failures_total",
			Help: "Rejected webhook signatures by source and reason",
		},
		[]string{"source", "reason"},
	)

	raceRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookd_ingest_race_recoveries_total",
			Help: "Inserts that lost a concurrent duplicate race and returned the winner",
		},
		[]string{"source"},
	)

	storedEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookd_stored_events",
			Help: "Number of stored webhook events by status",
		},
		[]string{"status"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookd_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookd_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookd_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func RecordDelivery(source, outcome string) {
	webhookDeliveries.WithLabelValues(source, outcome).Inc()
}

func RecordAuthFailure(source, reason string) {
	authFailures.WithLabelValues(source, reason).Inc()
}

func RecordRaceRecovery(source string) {
	raceRecoveries.WithLabelValues(source).Inc()
}

func SetStoredEvents(status string, n int64) {
	storedEvents.WithLabelValues(status).Set(float64(n))
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// NormalizePath turns a ServeMux pattern such as "POST /webhooks/{source}"
// into a label value ("/webhooks/:source"). Unmatched requests share one label.
func NormalizePath(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = pattern[i+1:]
	}
	if len(pattern) > 100 {
		pattern = pattern[:100]
	}

	var sb strings.Builder
	inParam := false
	for i := 0; i < len(pattern); i++ {
		switch {
		case pattern[i] == '{':
			inParam = true
			sb.WriteByte(':')
		case pattern[i] == '}':
			inParam = false
		case inParam && (pattern[i] == '.' || pattern[i] == '$'):
			// "{rest...}" and "{$}" markers
		default:
			sb.WriteByte(pattern[i])
		}
	}
	return sb.String()
}
