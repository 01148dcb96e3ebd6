// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector aggregates pool and transaction metrics. A nil *Collector is
// valid and turns every method into a no-op, so callers never need to guard.
type Collector struct {
	// Pool gauges
	poolActive  *prometheus.GaugeVec
	poolIdle    *prometheus.GaugeVec
	poolPending *prometheus.GaugeVec

	// Pool counters
	connectionsCreated   *prometheus.CounterVec
	connectionsDestroyed *prometheus.CounterVec
	acquiresTotal        *prometheus.CounterVec
	releasesTotal        *prometheus.CounterVec
	acquireTimeouts      *prometheus.CounterVec
	creationFailures     *prometheus.CounterVec

	// Pool latency
	acquireDuration *prometheus.HistogramVec

	// Transaction metrics
	transactionsTotal *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registering under the given namespace.
// Tests pass prometheus.NewRegistry() to avoid cross-test collisions.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.poolActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pool_connections_active",
		Help: "Connections currently checked out, per database type.",
	}, []string{"database"})
	c.poolIdle = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pool_connections_idle",
		Help: "Idle connections available for reuse, per database type.",
	}, []string{"database"})
	c.poolPending = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pool_queue_length",
		Help: "Acquire requests waiting in the FIFO queue, per database type.",
	}, []string{"database"})

	c.connectionsCreated = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_connections_created_total",
		Help: "Connections created, per database type.",
	}, []string{"database"})
	c.connectionsDestroyed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_connections_destroyed_total",
		Help: "Connections destroyed, per database type.",
	}, []string{"database"})
	c.acquiresTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_acquires_total",
		Help: "Successful connection acquisitions, per database type.",
	}, []string{"database"})
	c.releasesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_releases_total",
		Help: "Connection releases, per database type.",
	}, []string{"database"})
	c.acquireTimeouts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_acquire_timeouts_total",
		Help: "Queued acquire requests that timed out, per database type.",
	}, []string{"database"})
	c.creationFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_creation_failures_total",
		Help: "Connection creation failures, per database type.",
	}, []string{"database"})

	c.acquireDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "pool_acquire_duration_seconds",
		Help:    "Latency from acquire call to connection handover.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"database"})

	c.transactionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_transactions_total",
		Help: "Two-phase-commit transactions by final outcome.",
	}, []string{"outcome"})
	c.phaseDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "tx_phase_duration_seconds",
		Help:    "Duration of 2PC phases.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"phase"})

	return c
}

// =============================================================================
// 🎯 Recording methods
// =============================================================================

// UpdatePoolGauges pushes a pool snapshot.
func (c *Collector) UpdatePoolGauges(database string, active, idle, pending int) {
	if c == nil {
		return
	}
	c.poolActive.WithLabelValues(database).Set(float64(active))
	c.poolIdle.WithLabelValues(database).Set(float64(idle))
	c.poolPending.WithLabelValues(database).Set(float64(pending))
}

// RecordCreated counts one connection creation.
func (c *Collector) RecordCreated(database string) {
	if c == nil {
		return
	}
	c.connectionsCreated.WithLabelValues(database).Inc()
}

// RecordDestroyed counts one connection destruction.
func (c *Collector) RecordDestroyed(database string) {
	if c == nil {
		return
	}
	c.connectionsDestroyed.WithLabelValues(database).Inc()
}

// RecordCreationFailure counts one failed creation attempt.
func (c *Collector) RecordCreationFailure(database string) {
	if c == nil {
		return
	}
	c.creationFailures.WithLabelValues(database).Inc()
}

// RecordAcquire counts one successful acquisition and its latency.
func (c *Collector) RecordAcquire(database string, d time.Duration) {
	if c == nil {
		return
	}
	c.acquiresTotal.WithLabelValues(database).Inc()
	c.acquireDuration.WithLabelValues(database).Observe(d.Seconds())
}

// RecordRelease counts one release.
func (c *Collector) RecordRelease(database string) {
	if c == nil {
		return
	}
	c.releasesTotal.WithLabelValues(database).Inc()
}

// RecordAcquireTimeout counts one queue timeout.
func (c *Collector) RecordAcquireTimeout(database string) {
	if c == nil {
		return
	}
	c.acquireTimeouts.WithLabelValues(database).Inc()
}

// RecordTransaction counts one finished transaction by outcome
// (committed, rolled_back, failed).
func (c *Collector) RecordTransaction(outcome string) {
	if c == nil {
		return
	}
	c.transactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPhase observes the duration of one 2PC phase
// (prepare, commit, rollback).
func (c *Collector) RecordPhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
