package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Transfer metrics
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_executions_total",
			Help: "Total number of transfer executions by outcome",
		},
		[]string{"outcome"},
	)

	TransferAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_amount_cents",
			Help:    "Transfer amount distribution (in cents)",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"outcome"},
	)

	TransferProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_processing_duration_seconds",
			Help:    "Time to execute a transfer command",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// Journal metrics
	JournalEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_journal_entries_total",
			Help: "Total number of journal entries written",
		},
		[]string{"kind"},
	)

	JournalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_journal_write_duration_seconds",
			Help:    "Time to append entries to the journal",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	// Account metrics
	AccountBalanceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transfer_account_balance_cents",
			Help: "Current account balance (in cents)",
		},
		[]string{"subscriber"},
	)

	TotalBalanceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_total_balance_cents",
			Help: "Total balance across all accounts (in cents); constant while only transfers occur",
		},
	)

	AccountCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_account_count",
			Help: "Total number of provisioned accounts",
		},
	)

	// Admission metrics
	AdmissionRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_admission_rejected_total",
			Help: "Requests rejected before reaching the engine",
		},
		[]string{"reason"}, // untrusted, unresolved, rate_limited
	)

	// Concurrency metrics
	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfer_lock_contention_total",
			Help: "Transfers that timed out waiting for account access",
		},
	)

	DuplicateTransactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfer_duplicate_transactions_total",
			Help: "Total number of duplicate transaction IDs detected",
		},
	)
)
