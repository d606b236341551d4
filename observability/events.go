package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics bundles collectors for the lifecycle event bus.
type EventMetrics struct {
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking lifecycle event publication.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of lifecycle events published segmented by subject.",
			}, []string{"subject"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tidepool",
				Subsystem: "events",
				Name:      "publish_failures_total",
				Help:      "Count of dropped lifecycle events segmented by subject.",
			}, []string{"subject"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.failures)
	})
	return eventRegistry
}

// RecordPublished increments the publication counter for the subject.
func (m *EventMetrics) RecordPublished(subject string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(normalizeSubject(subject)).Inc()
}

// RecordPublishFailure increments the drop counter for the subject.
func (m *EventMetrics) RecordPublishFailure(subject string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeSubject(subject)).Inc()
}

func normalizeSubject(subject string) string {
	if subject = strings.TrimSpace(subject); subject == "" {
		return "unknown"
	}
	return subject
}
