// internal/service/fulfillment/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_dispatched_total",
		Help: "Number of fulfillment jobs successfully dispatched to the queue.",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_attempts_total",
		Help: "Fulfillment attempts by outcome.",
	}, []string{"outcome"}) // completed / conflict_retry / failed

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_attempt_duration_seconds",
		Help:    "Wall-clock duration of a single fulfillment attempt.",
		Buckets: prometheus.DefBuckets,
	})
)
