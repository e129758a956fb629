// Package metrics holds the Prometheus collectors shared by the import
// pipeline. Collectors register with the default registry on init and are
// exposed by the HTTP server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogimport"

var (
	// JobsTotal counts finished ingestion attempts by outcome
	// (complete, failed, retrying).
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Ingestion job attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RowsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_processed_total",
		Help:      "Rows accepted into flushed batches.",
	})

	RowErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Rows skipped because of row-level errors.",
		},
		[]string{"reason"},
	)

	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_flush_seconds",
		Help:      "Duration of one bulk upsert.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ProgressWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_write_failures_total",
		Help:      "Progress snapshot writes that failed.",
	})

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Terminal events accepted by the emitter.",
		},
		[]string{"event"},
	)

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Terminal events dropped because the outbound buffer was full.",
	})

	// Deliveries counts webhook attempts by result
	// (delivered, transport_error, gave_up, skipped).
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result.",
		},
		[]string{"result"},
	)

	StagedUploads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "staged_uploads_active",
		Help:      "Uploads currently being written to staging.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		RowsProcessed,
		RowErrors,
		FlushDuration,
		ProgressWriteFailures,
		EventsEmitted,
		EventsDropped,
		Deliveries,
		StagedUploads,
	)
}
