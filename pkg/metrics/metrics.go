package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector provides metrics collection for a single analysis run
type Collector struct {
	registry *prometheus.Registry

	// Provider Metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Normalization Metrics
	RowsProcessedTotal prometheus.Counter
	RowsDroppedTotal   *prometheus.CounterVec
	SamplesEmitted     prometheus.Gauge

	// Fit Metrics
	FitDuration    prometheus.Histogram
	FitIterations  prometheus.Gauge
	FitRMSE        *prometheus.GaugeVec
	FitParameter   *prometheus.GaugeVec
	FitErrorsTotal *prometheus.CounterVec

	// Export Metrics
	ExportRowsTotal prometheus.Counter

	// System Metrics
	ProcessingTimeMS *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector backed by its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of data provider requests by operation and status",
			},
			[]string{"operation", "status"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Data provider request duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),

		RowsProcessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalizer_rows_processed_total",
				Help:      "Total number of raw rows seen by the normalizer",
			},
		),

		RowsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalizer_rows_dropped_total",
				Help:      "Total number of raw rows dropped by reason",
			},
			[]string{"reason"},
		),

		SamplesEmitted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "normalizer_samples",
				Help:      "Number of samples in the normalized time series",
			},
		),

		FitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Duration of the seasonal fit in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		FitIterations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fit_iterations",
				Help:      "Levenberg-Marquardt iterations used by the last fit",
			},
		),

		FitRMSE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fit_rmse",
				Help:      "Root mean squared error of the fitted seasonal model",
			},
			[]string{"band"},
		),

		FitParameter: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fit_parameter",
				Help:      "Fitted seasonal model parameters",
			},
			[]string{"band", "parameter"},
		),

		FitErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fit_errors_total",
				Help:      "Total number of failed fits by reason",
			},
			[]string{"reason"},
		),

		ExportRowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_rows_total",
				Help:      "Total number of samples written by the export sink",
			},
		),

		ProcessingTimeMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_time_milliseconds",
				Help:      "Processing time in milliseconds by operation",
				Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"operation"},
		),
	}
}

// Registry exposes the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordProviderRequest counts a provider call and observes its duration
func (c *Collector) RecordProviderRequest(operation, status string, duration time.Duration) {
	c.ProviderRequestsTotal.WithLabelValues(operation, status).Inc()
	c.ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDroppedRows adds n dropped rows for reason
func (c *Collector) RecordDroppedRows(reason string, n int) {
	if n <= 0 {
		return
	}
	c.RowsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordFit publishes the fitted parameters and quality of a band's fit
func (c *Collector) RecordFit(band string, baseline, amplitude, period, phase, rmse float64, iterations int) {
	c.FitIterations.Set(float64(iterations))
	c.FitRMSE.WithLabelValues(band).Set(rmse)
	c.FitParameter.WithLabelValues(band, "baseline").Set(baseline)
	c.FitParameter.WithLabelValues(band, "amplitude").Set(amplitude)
	c.FitParameter.WithLabelValues(band, "period_ms").Set(period)
	c.FitParameter.WithLabelValues(band, "phase").Set(phase)
}

// RecordFitError increments the fit error counter
func (c *Collector) RecordFitError(reason string) {
	c.FitErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordProcessingTime observes an operation duration in milliseconds
func (c *Collector) RecordProcessingTime(operation string, duration time.Duration) {
	c.ProcessingTimeMS.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000.0)
}

// Push sends every collected metric to a Prometheus Pushgateway
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

// WriteTextfile writes every collected metric in the node_exporter textfile format
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
