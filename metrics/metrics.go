package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_analyses_total",
			Help: "Total number of timeline analyses by terminal status",
		},
		[]string{"status"},
	)

	AnalysesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodian_analyses_in_flight",
			Help: "Number of analyses currently running",
		},
	)

	CapacityRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodian_capacity_rejections_total",
			Help: "Total number of analyses rejected because the concurrency bound was reached",
		},
	)

	EventsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_events_normalized_total",
			Help: "Total number of events normalized",
		},
		[]string{"source_type"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_events_skipped_total",
			Help: "Total number of raw events dropped during normalization",
		},
		[]string{"source_type"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_anomalies_detected_total",
			Help: "Total number of anomalies detected before correlation",
		},
		[]string{"type", "severity"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custodian_stage_duration_seconds",
			Help:    "Time taken by each analysis pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	LedgerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_ledger_failures_total",
			Help: "Total number of evidence ledger failures",
		},
		[]string{"op"},
	)

	IngestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_ingest_records_total",
			Help: "Total number of raw records read from evidence exports",
		},
		[]string{"format"},
	)
)
