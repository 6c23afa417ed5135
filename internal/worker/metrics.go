package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_worker_tasks_total",
			Help: "Queued tasks processed by type and outcome (completed, dropped, nacked)",
		},
		[]string{"type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_worker_task_duration_seconds",
			Help:    "Duration of queued task processing",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)
)
