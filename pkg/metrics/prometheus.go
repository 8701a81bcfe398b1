package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	skuOutcomes  *prometheus.CounterVec
	runStatus    *prometheus.CounterVec
	recoPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		observations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_observations_stored_total",
				Help: "Total number of raw observations archived",
			},
			[]string{"sku"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		skuOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_sku_outcomes_total",
				Help: "Per-SKU pipeline outcomes",
			},
			[]string{"outcome"},
		),
		runStatus: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_runs_total",
				Help: "Pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		recoPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricepulse_reco_price",
				Help: "Last recommended price for a SKU",
			},
			[]string{"sku"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordObservationStored counts an archived raw observation.
func (r *Recorder) RecordObservationStored(sku string) {
	r.observations.WithLabelValues(sku).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSKUOutcome counts a per-SKU pipeline outcome.
func (r *Recorder) RecordSKUOutcome(outcome string) {
	r.skuOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRunStatus counts a run reaching a terminal status.
func (r *Recorder) RecordRunStatus(status string) {
	r.runStatus.WithLabelValues(status).Inc()
}

// RecordRecoPrice records the latest recommended price for a SKU.
func (r *Recorder) RecordRecoPrice(sku string, price float64) {
	r.recoPrice.WithLabelValues(sku).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
