package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics bundles collectors for the HTTP API.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics

	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics

	sweeperMetricsOnce sync.Once
	sweeperRegistry    *SweeperMetrics
)

// API returns the lazily-initialised registry used to record HTTP API
// activity.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tidepool",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting or quotas.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded" so dashboards and alerts
// remain consistent.
func (m *APIMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// SettlementMetrics bundles collectors for the settlement coordinator.
type SettlementMetrics struct {
	batches       *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	intentsFilled prometheus.Counter
	ordersRun     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	buildLatency  prometheus.Histogram
	inFlight      prometheus.Gauge
}

// Settlement returns the metrics registry for the settlement coordinator.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "batches_total",
				Help:      "Count of settlement batches segmented by outcome.",
			}, []string{"outcome"}),
			confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "confirmations_total",
				Help:      "Count of confirmed settlement transactions segmented by kind.",
			}, []string{"kind"}),
			intentsFilled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "intents_filled_total",
				Help:      "Count of intents moved to a filled state.",
			}),
			ordersRun: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "orders_executed_total",
				Help:      "Count of confirmed order executions segmented by order type.",
			}, []string{"type"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "errors_total",
				Help:      "Count of coordinator failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			buildLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "build_duration_seconds",
				Help:      "Latency distribution for transaction building.",
				Buckets:   prometheus.DefBuckets,
			}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tidepool",
				Subsystem: "settlement",
				Name:      "in_flight_batches",
				Help:      "Number of built but unconfirmed settlement batches.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.batches,
			settlementRegistry.confirmations,
			settlementRegistry.intentsFilled,
			settlementRegistry.ordersRun,
			settlementRegistry.errors,
			settlementRegistry.buildLatency,
			settlementRegistry.inFlight,
		)
	})
	return settlementRegistry
}

// RecordBatch counts a built settlement batch and its build latency.
func (m *SettlementMetrics) RecordBatch(outcome string, buildTime time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.buildLatency.Observe(buildTime.Seconds())
}

// RecordConfirmation counts a confirmed transaction of the given kind
// ("settlement", "order", "cancel", "reclaim").
func (m *SettlementMetrics) RecordConfirmation(kind string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(kind).Inc()
}

// RecordIntentsFilled adds to the filled-intent counter.
func (m *SettlementMetrics) RecordIntentsFilled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.intentsFilled.Add(float64(n))
}

// RecordOrderExecuted counts a confirmed order execution.
func (m *SettlementMetrics) RecordOrderExecuted(orderType string) {
	if m == nil {
		return
	}
	if orderType = strings.TrimSpace(orderType); orderType == "" {
		orderType = "UNKNOWN"
	}
	m.ordersRun.WithLabelValues(orderType).Inc()
}

// RecordError increments the error counter for the supplied operation.
func (m *SettlementMetrics) RecordError(operation, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(operation, reason).Inc()
}

// SetInFlight updates the in-flight batch gauge.
func (m *SettlementMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// SweeperMetrics bundles collectors for the consistency sweeper.
type SweeperMetrics struct {
	expired      *prometheus.CounterVec
	poolRepoints prometheus.Counter
	skips        *prometheus.CounterVec
	lastRun      prometheus.Gauge
}

// Sweeper returns the metrics registry for the consistency sweeper.
func Sweeper() *SweeperMetrics {
	sweeperMetricsOnce.Do(func() {
		sweeperRegistry = &SweeperMetrics{
			expired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "sweeper",
				Name:      "expired_total",
				Help:      "Count of entities bulk-expired by the sweeper segmented by entity.",
			}, []string{"entity"}),
			poolRepoints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "sweeper",
				Name:      "pool_repoints_total",
				Help:      "Count of pool UTxO references re-pointed from chain observation.",
			}),
			skips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "sweeper",
				Name:      "skips_total",
				Help:      "Count of sweep items skipped on transient failures segmented by reason.",
			}, []string{"reason"}),
			lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tidepool",
				Subsystem: "sweeper",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix timestamp of the last completed sweep.",
			}),
		}
		prometheus.MustRegister(
			sweeperRegistry.expired,
			sweeperRegistry.poolRepoints,
			sweeperRegistry.skips,
			sweeperRegistry.lastRun,
		)
	})
	return sweeperRegistry
}

// RecordExpired adds to the expired-entity counter.
func (m *SweeperMetrics) RecordExpired(entity string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.WithLabelValues(entity).Add(float64(n))
}

// RecordPoolRepoint counts a pool reference update.
func (m *SweeperMetrics) RecordPoolRepoint() {
	if m == nil {
		return
	}
	m.poolRepoints.Inc()
}

// RecordSkip counts a sweep item skipped on a transient failure.
func (m *SweeperMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.skips.WithLabelValues(reason).Inc()
}

// MarkRun stamps the completion time of a sweep.
func (m *SweeperMetrics) MarkRun(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}
