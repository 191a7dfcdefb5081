package reindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass results used as the "result" label of passesTotal.
const (
	ResultCompleted   = "completed"
	ResultInterrupted = "interrupted"
	ResultFailed      = "failed"
)

var (
	tasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bucketdb",
		Subsystem: "reindexer",
		Name:      "tasks_processed_total",
		Help:      "Documents re-indexed by the background reindexer.",
	}, []string{"bucket"})

	tasksSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bucketdb",
		Subsystem: "reindexer",
		Name:      "tasks_skipped_total",
		Help:      "Queued tasks dropped because the document no longer exists.",
	}, []string{"bucket"})

	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bucketdb",
		Subsystem: "reindexer",
		Name:      "passes_total",
		Help:      "Finished reindex passes by result.",
	}, []string{"bucket", "result"})

	passDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bucketdb",
		Subsystem: "reindexer",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of reindex passes.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"bucket"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bucketdb",
		Subsystem: "reindexer",
		Name:      "queue_depth",
		Help:      "Tasks remaining in the current pass.",
	}, []string{"bucket"})
)
