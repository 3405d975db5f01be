package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	executionsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "materializer",
		Name:      "executions_inserted_total",
		Help:      "Number of execution rows created by materialization passes.",
	})
	executionsAlreadyPresent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "materializer",
		Name:      "executions_already_present_total",
		Help:      "Number of target rows found already materialized (idempotent replays).",
	})
	materializeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coaching_service",
		Subsystem: "materializer",
		Name:      "pass_duration_seconds",
		Help:      "Time spent computing and upserting one materialization pass.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	lastMaterializedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coaching_service",
		Subsystem: "materializer",
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed materialization pass.",
	})
	backfillEnrollments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "materializer",
		Name:      "backfill_enrollments_total",
		Help:      "Number of active enrollments covered by activity-wide backfills.",
	})
)

func init() {
	prometheus.MustRegister(executionsInserted, executionsAlreadyPresent, materializeDuration, lastMaterializedGauge, backfillEnrollments)
}

// RecordMaterialization updates the materializer counters after a pass.
func RecordMaterialization(inserted, alreadyPresent int, elapsed time.Duration) {
	executionsInserted.Add(float64(inserted))
	executionsAlreadyPresent.Add(float64(alreadyPresent))
	materializeDuration.Observe(elapsed.Seconds())
	lastMaterializedGauge.Set(float64(time.Now().Unix()))
}

// RecordBackfill counts the enrollments covered by a completed backfill.
func RecordBackfill(enrollments int) {
	backfillEnrollments.Add(float64(enrollments))
}
