// Package metrics exposes the pipeline's Prometheus instrumentation,
// grounded on the teacher's pricing_service/src/PricingController.go
// ControllerMetrics struct.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every counter/histogram/gauge the pipeline records.
type Registry struct {
	JobsEnqueued    *prometheus.CounterVec
	JobsAcked       prometheus.Counter
	JobsNacked      *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	ScrapeOutcomes  *prometheus.CounterVec
	ScrapeDuration  prometheus.Histogram
	ExtractConfidence prometheus.Histogram
	RateGovernorWait prometheus.Histogram
	QueueDepth      prometheus.Gauge
}

// New registers and returns the pipeline's metric set against the default
// Prometheus registerer.
func New() *Registry {
	return &Registry{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "jobs_enqueued_total",
			Help:      "Scrape jobs enqueued, by origin.",
		}, []string{"origin"}),
		JobsAcked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "jobs_acked_total",
			Help:      "Scrape jobs acknowledged as successfully completed.",
		}),
		JobsNacked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "jobs_nacked_total",
			Help:      "Scrape jobs returned to the queue for retry, by outcome kind.",
		}, []string{"kind"}),
		JobsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "jobs_dead_lettered_total",
			Help:      "Scrape jobs moved to the dead-letter queue, by outcome kind.",
		}, []string{"kind"}),
		ScrapeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "scrape_outcomes_total",
			Help:      "Scrape executor outcomes, by kind and fetch tier.",
		}, []string{"kind", "tier"}),
		ScrapeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "scrape_duration_seconds",
			Help:      "End-to-end duration of one scrape executor run.",
			Buckets:   prometheus.DefBuckets,
		}),
		ExtractConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "extract_confidence",
			Help:      "Confidence score of successful price extractions.",
			Buckets:   []float64{0.0, 0.4, 0.7, 1.0},
		}),
		RateGovernorWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "rate_governor_wait_seconds",
			Help:      "Time spent waiting for a rate-governor admission token.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricewatch",
			Name:      "queue_depth",
			Help:      "Number of jobs currently READY or RESERVED in the job queue.",
		}),
	}
}
