package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ObservationsTotal tracks ledger writes by outcome (recorded, stale, late)
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchledger_observations_total",
			Help: "Total number of balance observations by outcome",
		},
		[]string{"outcome"},
	)

	// ObservationLatency tracks end-to-end RecordObservation latency
	ObservationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchledger_observation_latency_seconds",
			Help:    "RecordObservation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StreamLockWait tracks time spent waiting for the in-process stream lock
	StreamLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchledger_stream_lock_wait_seconds",
			Help:    "Time spent waiting for a balance stream lock",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// NotifierErrors tracks balance-change events that could not be published
	NotifierErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchledger_notifier_errors_total",
			Help: "Total number of balance-change events that failed to publish",
		},
	)

	// SessionsIssued tracks issued sessions
	SessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchledger_sessions_issued_total",
			Help: "Total number of sessions issued",
		},
	)

	// SessionValidations tracks Validate calls by result
	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchledger_session_validations_total",
			Help: "Total number of session validations by result",
		},
		[]string{"result"},
	)

	// SessionsPurged tracks sessions removed by the sweeper
	SessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchledger_sessions_purged_total",
			Help: "Total number of expired sessions purged",
		},
	)

	// AuditWrites tracks successfully appended audit entries
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchledger_audit_writes_total",
			Help: "Total number of audit entries written",
		},
		[]string{"action"},
	)

	// AuditDegraded tracks audit entries that were dropped
	AuditDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchledger_audit_degraded_total",
			Help: "Total number of audit entries that could not be written",
		},
	)

	// StoreErrors tracks store failures by error kind
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchledger_store_errors_total",
			Help: "Total number of store errors by kind",
		},
		[]string{"kind"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchledger_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// PollerRuns tracks balance poller passes by result
	PollerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchledger_poller_runs_total",
			Help: "Total number of balance poller passes by result",
		},
		[]string{"result"},
	)

	// PollerLastRun tracks the unix time of the last completed poller pass
	PollerLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchledger_poller_last_run_timestamp",
			Help: "Unix time of the last completed balance poller pass",
		},
	)
)
