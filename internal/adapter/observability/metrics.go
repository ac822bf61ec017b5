package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ComplaintsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complaints_processed_total",
			Help: "Total number of complaints processed by outcome",
		},
		[]string{"outcome"},
	)
	ComplaintsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "complaints_retried_total",
			Help: "Total number of failed->pending requeues by the reconciler",
		},
	)
	QueueEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_enqueued_total",
			Help: "Total number of accepted queue enqueues",
		},
	)
	QueueRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_rejected_total",
			Help: "Total number of rejected enqueues by cause",
		},
		[]string{"cause"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of queued complaint ids",
		},
	)
	DuplicatesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicates_detected_total",
			Help: "Total number of complaints resolved as duplicates",
		},
	)
	SemanticMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semantic_mismatch_total",
			Help: "Total number of complaints whose image contradicted the category",
		},
	)
	ImageFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_fetch_duration_seconds",
			Help:    "Image download and decode duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
	)
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Per-stage inference duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
	PriorityScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "priority_final_score",
			Help:    "Distribution of final priority scores",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 12},
		},
	)
)

// InitMetrics registers all engine collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(ComplaintsProcessedTotal)
	prometheus.MustRegister(ComplaintsRetriedTotal)
	prometheus.MustRegister(QueueEnqueuedTotal)
	prometheus.MustRegister(QueueRejectedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DuplicatesDetectedTotal)
	prometheus.MustRegister(SemanticMismatchTotal)
	prometheus.MustRegister(ImageFetchDuration)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(PriorityScoreHistogram)
}
