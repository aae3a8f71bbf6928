package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values of jobs_processed_total.
const (
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Queue messages handled by the worker, by outcome.",
		},
		[]string{"outcome"},
	)

	// Mask R-CNN on CPU takes seconds, so the buckets reach well past DefBuckets.
	segmentationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_duration_seconds",
			Help:    "Duration of instance segmentation calls in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	receiveBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_receive_batch_size",
			Help:    "Number of messages returned by each queue receive.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(jobsProcessed, segmentationDuration, receiveBatchSize)
}

// ObserveSegmentation records one inference duration.
func ObserveSegmentation(d time.Duration) {
	segmentationDuration.Observe(d.Seconds())
}
