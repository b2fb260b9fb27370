// Package observability provides Prometheus metrics for the leafnet-go
// pipeline.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all metric groups and the registry they are registered on.
type Metrics struct {
	LeafNet   *LeafNetMetrics
	Scheduler *SchedulerMetrics

	registry *prometheus.Registry
}

// NewMetrics creates a registry with all metric groups registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	leafnetMetrics, err := NewLeafNetMetrics(registry)
	if err != nil {
		return nil, err
	}
	schedulerMetrics, err := NewSchedulerMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		LeafNet:   leafnetMetrics,
		Scheduler: schedulerMetrics,
		registry:  registry,
	}, nil
}

// Registry returns the underlying Prometheus registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// LeafNetMetrics contains all Prometheus metrics related to model inference.
type LeafNetMetrics struct {
	PredictionDuration prometheus.Histogram
	PredictionTotal    prometheus.Counter
	PredictionErrors   prometheus.Counter
	ModelLoadedGauge   prometheus.Gauge
}

// NewLeafNetMetrics creates and registers the inference metrics.
func NewLeafNetMetrics(registry *prometheus.Registry) (*LeafNetMetrics, error) {
	m := &LeafNetMetrics{
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafnet_prediction_duration_seconds",
			Help:    "Time taken to perform a prediction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PredictionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnet_predictions_total",
			Help: "Total number of model predictions.",
		}),
		PredictionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnet_prediction_errors_total",
			Help: "Total number of failed model predictions.",
		}),
		ModelLoadedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafnet_model_loaded",
			Help: "Whether the classification model is loaded (1) or not (0).",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.PredictionDuration, m.PredictionTotal, m.PredictionErrors, m.ModelLoadedGauge,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register leafnet metrics: %w", err)
		}
	}
	return m, nil
}

// SchedulerMetrics contains all Prometheus metrics related to the diagnosis sweep.
type SchedulerMetrics struct {
	SweepTotal       prometheus.Counter
	SweepSkipped     prometheus.Counter
	SweepDuration    prometheus.Histogram
	RecordsDiagnosed prometheus.Counter
	RecordsFailed    *prometheus.CounterVec
	SweepInFlight    prometheus.Gauge
}

// NewSchedulerMetrics creates and registers the sweep metrics.
func NewSchedulerMetrics(registry *prometheus.Registry) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{
		SweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnet_sweeps_total",
			Help: "Total number of completed diagnosis sweeps.",
		}),
		SweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnet_sweeps_skipped_total",
			Help: "Ticks skipped because a sweep was still running.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafnet_sweep_duration_seconds",
			Help:    "Time taken by one diagnosis sweep.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		RecordsDiagnosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnet_records_diagnosed_total",
			Help: "Records successfully server-diagnosed by sweeps.",
		}),
		RecordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafnet_records_failed_total",
			Help: "Records skipped during sweeps, partitioned by failure stage.",
		}, []string{"stage"}),
		SweepInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafnet_sweep_in_flight",
			Help: "Whether a diagnosis sweep is currently running.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.SweepTotal, m.SweepSkipped, m.SweepDuration,
		m.RecordsDiagnosed, m.RecordsFailed, m.SweepInFlight,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register scheduler metrics: %w", err)
		}
	}
	return m, nil
}
