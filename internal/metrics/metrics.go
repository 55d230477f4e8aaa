// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Vote and aggregate metrics
var (
	// VotesCastTotal counts CastVote outcomes by result (inserted, updated, rejected, failed).
	VotesCastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_cast_total",
			Help: "Total vote submissions by result",
		},
		[]string{"result"},
	)

	// VoteReversalsTotal counts ReverseVote outcomes (reversed, already_reversed, failed).
	VoteReversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_reversals_total",
			Help: "Total vote reversal attempts by result",
		},
		[]string{"result"},
	)

	// AggregateApplyDuration tracks the time spent inside one item-scoped unit, lock wait included.
	AggregateApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregate_apply_duration_seconds",
			Help:    "Duration of an aggregate read-modify-write by delta kind",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"delta"},
	)

	// StoreRetriesTotal counts transient store failures that were retried.
	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_retries_total",
			Help: "Transient store failures retried by operation",
		},
		[]string{"operation"},
	)
)

// Fraud detection metrics
var (
	// FraudRunsTotal counts detection runs by status (completed, failed, skipped).
	FraudRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_detection_runs_total",
			Help: "Fraud detection runs by status",
		},
		[]string{"status"},
	)

	// FraudRunDuration tracks how long a detection run takes.
	FraudRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraud_detection_run_duration_seconds",
			Help:    "Fraud detection run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FraudCandidatesTotal counts scored candidates by outcome (kept, reversed, skipped, failed).
	FraudCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_detection_candidates_total",
			Help: "Fraud detection candidates by outcome",
		},
		[]string{"outcome"},
	)

	// FraudBaselineSize reports the baseline population of the latest run.
	FraudBaselineSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fraud_detection_baseline_votes",
			Help: "Number of votes in the baseline window of the latest run",
		},
	)
)

// PoolStats is a point-in-time view of a database connection pool.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
}

// RegisterPoolStats exports pool gauges that call read on every scrape.
// Registering twice is a no-op.
func RegisterPoolStats(read func() PoolStats) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_acquired_connections",
			Help: "Connections currently checked out of the pool",
		}, func() float64 { return float64(read().Acquired) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_idle_connections",
			Help: "Idle connections in the pool",
		}, func() float64 { return float64(read().Idle) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_total_connections",
			Help: "Total connections in the pool",
		}, func() float64 { return float64(read().Total) }),
	}
	for _, g := range gauges {
		if err := prometheus.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
