// Package metrics holds the Prometheus collectors shared by printguard components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups tracks cache reads by outcome (hit, miss)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"result"},
	)

	// CacheEvictions tracks entries purged by the expiry sweep
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printguard_cache_evictions_total",
			Help: "Total number of expired cache entries swept",
		},
	)

	// PolicyAttempts tracks individual attempts made under a policy
	PolicyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_policy_attempts_total",
			Help: "Total number of attempts executed by retry policies",
		},
		[]string{"operation"},
	)

	// PolicyOutcomes tracks the final result of policy executions
	PolicyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_policy_outcomes_total",
			Help: "Total number of policy executions by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ConnectionsOpened tracks new device connections
	ConnectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_connections_opened_total",
			Help: "Total number of device connections opened",
		},
		[]string{"address"},
	)

	// ConnectionReuses tracks connects served from the pool
	ConnectionReuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_connection_reuses_total",
			Help: "Total number of connects served by a pooled connection",
		},
		[]string{"address"},
	)

	// ConnectionFailures tracks failed connects and probes
	ConnectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_connection_failures_total",
			Help: "Total number of failed device connects or health probes",
		},
		[]string{"address"},
	)

	// PoolEvictions tracks records removed from the pool
	PoolEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_pool_evictions_total",
			Help: "Total number of pooled connections evicted",
		},
		[]string{"reason"},
	)

	// PoolSize tracks the number of pooled connections
	PoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printguard_pool_size",
			Help: "Number of pooled device connections",
		},
	)

	// Corrections tracks corrective commands by action and outcome
	Corrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_corrections_total",
			Help: "Total number of corrective commands issued",
		},
		[]string{"action", "outcome"},
	)

	// PrintJobs tracks print requests by outcome
	PrintJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_print_jobs_total",
			Help: "Total number of print jobs",
		},
		[]string{"format", "outcome"},
	)

	// PrintLatency tracks end-to-end print latency
	PrintLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printguard_print_latency_seconds",
			Help:    "Print job latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printguard_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)

	// EventsPublished tracks lifecycle events handed to the broker by outcome
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printguard_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"sink", "outcome"},
	)
)
