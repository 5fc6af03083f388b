// Package telemetry exposes sync engine metrics through Prometheus.
// Metrics live on a dedicated registry that is only served when the
// diagnostics server is enabled; nothing is pushed anywhere.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector defined by this package.
var Registry = prometheus.NewRegistry()

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Subsystem: "outbox",
		Name:      "items_enqueued_total",
		Help:      "Number of mutations enqueued, labeled by entity type and operation.",
	}, []string{"entity_type", "operation"})

	outcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Subsystem: "sync",
		Name:      "upload_outcomes_total",
		Help:      "Upload adapter outcomes, labeled by entity type and outcome kind.",
	}, []string{"entity_type", "outcome"})

	durabilityWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Subsystem: "outbox",
		Name:      "durability_warnings_total",
		Help:      "Number of outbox persistence writes that failed.",
	})

	corruptRehydrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Subsystem: "outbox",
		Name:      "corrupt_rehydrations_total",
		Help:      "Number of times a persisted outbox could not be parsed and was reset.",
	})

	cyclesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Subsystem: "sync",
		Name:      "cycles_total",
		Help:      "Number of sync cycle triggers, labeled by result (completed, skipped, coalesced).",
	}, []string{"result"})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fieldsync",
		Subsystem: "sync",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent running a sync cycle end to end.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fieldsync",
		Subsystem: "outbox",
		Name:      "items",
		Help:      "Current number of outbox items, labeled by status.",
	}, []string{"status"})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldsync",
		Subsystem: "sync",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sync cycle.",
	})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldsync",
		Subsystem: "connectivity",
		Name:      "online",
		Help:      "1 when the backend is reachable, 0 otherwise.",
	})
)

func init() {
	Registry.MustRegister(
		enqueuedCounter, outcomeCounter, durabilityWarnings, corruptRehydrations,
		cyclesCounter, cycleDuration, queueDepth, lastSyncGauge, onlineGauge,
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordEnqueued counts a newly queued mutation.
func RecordEnqueued(entityType, operation string) {
	enqueuedCounter.WithLabelValues(entityType, operation).Inc()
}

// RecordOutcome counts one upload adapter outcome.
func RecordOutcome(entityType, outcome string) {
	outcomeCounter.WithLabelValues(entityType, outcome).Inc()
}

// RecordDurabilityWarning counts a failed persistence write.
func RecordDurabilityWarning() {
	durabilityWarnings.Inc()
}

// RecordCorruptState counts a discarded persisted outbox.
func RecordCorruptState() {
	corruptRehydrations.Inc()
}

// RecordCycle counts a cycle trigger and, for completed cycles, its duration.
func RecordCycle(result string, duration time.Duration) {
	cyclesCounter.WithLabelValues(result).Inc()
	if result == "completed" {
		cycleDuration.Observe(duration.Seconds())
	}
}

// SetQueueDepth publishes the per-status item counts.
func SetQueueDepth(counts map[string]int) {
	for status, n := range counts {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// RecordLastSync updates the last-sync watermark gauge.
func RecordLastSync(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}

// SetOnline publishes the reachability flag.
func SetOnline(online bool) {
	if online {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}
