package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_runs_total",
		Help: "Total scheduler invocations by outcome",
	}, []string{"outcome"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_batches_total",
		Help: "Total batches processed",
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_deliveries_total",
		Help: "Total recipients processed by outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_run_duration_seconds",
		Help:    "Wall-clock duration of scheduler invocations",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15},
	})

	progressRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_progress_ratio",
		Help: "Processed share of the current workday's recipients",
	})
)
