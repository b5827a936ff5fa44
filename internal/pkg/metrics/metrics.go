package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollsync_webhooks_received_total",
			Help: "Total number of provider webhooks received",
		},
		[]string{"event_type", "outcome"},
	)

	// Ledger outcomes
	WebhooksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollsync_webhooks_processed_total",
			Help: "Total number of ledger entries processed, by result",
		},
		[]string{"event_type", "result"},
	)

	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrollsync_webhook_processing_duration_seconds",
			Help:    "Duration of webhook handler execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// Reconciliation
	AcademicTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollsync_academic_transitions_total",
			Help: "Total number of academic status transitions applied",
		},
		[]string{"from", "to"},
	)

	UnrecognizedStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollsync_unrecognized_provider_statuses_total",
			Help: "Provider subscription statuses that left academic status untouched as unrecognized",
		},
		[]string{"status"},
	)

	ProviderRefetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollsync_provider_refetch_failures_total",
			Help: "Total number of failed invoice re-fetches from the provider",
		},
	)

	// Supervisor
	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollsync_job_retries_total",
			Help: "Total number of webhook jobs scheduled for a delayed retry",
		},
	)

	JobTerminalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollsync_job_terminal_failures_total",
			Help: "Total number of webhook jobs that exhausted their attempts",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enrollsync_queue_depth",
			Help: "Current number of jobs per queue list",
		},
		[]string{"queue"},
	)
)
