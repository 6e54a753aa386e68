package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments shared across the pipeline.
type Metrics struct {
	SamplesReceived *prometheus.CounterVec
	TransformErrors prometheus.Counter
	EntitiesEmitted prometheus.Counter
	BatchesTotal    *prometheus.CounterVec
	DeliveryRetries prometheus.Counter
	CoveragePercent *prometheus.GaugeVec
	MissingEntities prometheus.Gauge
	CycleDuration   prometheus.Histogram
}

// New registers and returns the instrument bundle on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqbridge_samples_received_total",
			Help: "Raw samples received, by receiver",
		}, []string{"receiver"}),

		TransformErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mqbridge_transform_errors_total",
			Help: "Samples rejected by the transformer",
		}),

		EntitiesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mqbridge_entities_emitted_total",
			Help: "Entities produced by transform passes",
		}),

		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqbridge_delivery_batches_total",
			Help: "Delivery batches by outcome",
		}, []string{"outcome"}),

		DeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mqbridge_delivery_retries_total",
			Help: "Transient-failure retry attempts",
		}),

		CoveragePercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqbridge_topology_coverage_percent",
			Help: "Coverage of desired topology per category, last cycle",
		}, []string{"category"}),

		MissingEntities: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mqbridge_topology_missing_entities",
			Help: "Desired entities absent from the last cycle",
		}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqbridge_cycle_duration_seconds",
			Help:    "Duration of one transform/reconcile/deliver cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}),
	}
}

// Batch outcome label values.
const (
	OutcomeAccepted    = "accepted"
	OutcomeTransient   = "transient_failure"
	OutcomePermanent   = "permanent_failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeCancelled   = "cancelled"
	OutcomeDryRun      = "dry_run"
)
