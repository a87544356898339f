// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitRunsTotal tracks finished unit runs by outcome
	UnitRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "unit",
			Name:      "runs_total",
			Help:      "Total number of unit runs by final state",
		},
		[]string{"endpoint_id", "sink_id", "state"},
	)

	// UnitRunDuration tracks unit run duration in seconds
	UnitRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "unit",
			Name:      "run_duration_seconds",
			Help:      "Duration of unit runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"endpoint_id", "sink_id"},
	)

	// UnitRunsInFlight tracks runs currently executing
	UnitRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "unit",
			Name:      "runs_in_flight",
			Help:      "Number of unit runs currently executing",
		},
	)

	// SinkBatchesTotal tracks batches written per sink
	SinkBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sink",
			Name:      "batches_total",
			Help:      "Total number of batches handed to sinks",
		},
		[]string{"sink_id", "status"},
	)

	// SinkRecordsTotal tracks upserts, edges and skips reported by sinks
	SinkRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sink",
			Name:      "records_total",
			Help:      "Total upserts, edges and skipped records reported by sinks",
		},
		[]string{"sink_id", "kind"},
	)

	// SinkBatchDuration tracks WriteBatch latency
	SinkBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sink",
			Name:      "batch_duration_seconds",
			Help:      "Duration of sink WriteBatch calls in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"sink_id"},
	)

	// CheckpointConflictsTotal tracks rejected conditional writes
	CheckpointConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "checkpoint",
			Name:      "conflicts_total",
			Help:      "Total number of checkpoint writes rejected by a version mismatch",
		},
		[]string{"prefix"},
	)

	// KafkaMessagesPublished tracks lifecycle events published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordSinkStats adds one batch worth of sink statistics.
func RecordSinkStats(sinkID string, upserts, edges, skipped int) {
	if upserts > 0 {
		SinkRecordsTotal.WithLabelValues(sinkID, "upserts").Add(float64(upserts))
	}
	if edges > 0 {
		SinkRecordsTotal.WithLabelValues(sinkID, "edges").Add(float64(edges))
	}
	if skipped > 0 {
		SinkRecordsTotal.WithLabelValues(sinkID, "skipped").Add(float64(skipped))
	}
}
