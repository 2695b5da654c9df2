package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carflow_batch_runs_total",
		Help: "Monthly consolidation runs by outcome.",
	}, []string{"result"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carflow_batch_duration_seconds",
		Help:    "Wall time of monthly consolidation runs, failed ones included.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	batchObservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carflow_batch_observations",
		Help: "Raw observations read by the last successful run.",
	})

	batchGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carflow_batch_groups",
		Help: "Monthly groups computed by the last successful run.",
	})

	batchRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carflow_batch_rows_total",
		Help: "Consolidated rows written by committed runs.",
	}, []string{"op"})

	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carflow_price_queries_total",
		Help: "Price history reads by audit status.",
	}, []string{"status"})
)
