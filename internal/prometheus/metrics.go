package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
)

const namespace = "wpruntime"

type runtimeMetrics struct {
	appStarts         *prometheus.CounterVec
	appStartFailures  *prometheus.CounterVec
	appStartDuration  prometheus.Histogram
	appStops          *prometheus.CounterVec
	instancesRunning  prometheus.Gauge
	installs          *prometheus.CounterVec
	portAllocAttempts prometheus.Histogram
	portExhaustions   prometheus.Counter
}

func newRuntimeMetrics(registry *prometheus.Registry) (*runtimeMetrics, error) {
	m := &runtimeMetrics{
		appStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_starts_total",
				Help:      "Total number of app start attempts by result",
			},
			[]string{"result"},
		),
		appStartFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_start_failures_total",
				Help:      "Total number of failed starts by the state reached before rollback",
			},
			[]string{"state"},
		),
		appStartDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "app_start_duration_seconds",
				Help:      "Time from start request until the interpreter is running",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		appStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_stops_total",
				Help:      "Total number of app stops by shutdown mode",
			},
			[]string{"mode"},
		),
		instancesRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_running",
				Help:      "Number of apps with a running interpreter and database",
			},
		),
		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_installs_total",
				Help:      "Total number of dependency installer runs by platform and result",
			},
			[]string{"platform", "result"},
		),
		portAllocAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "port_allocation_attempts",
				Help:      "Number of candidate ports probed per allocation",
				Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
			},
		),
		portExhaustions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "port_exhaustions_total",
				Help:      "Total number of allocations that found no free port",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.appStarts,
		m.appStartFailures,
		m.appStartDuration,
		m.appStops,
		m.instancesRunning,
		m.installs,
		m.portAllocAttempts,
		m.portExhaustions,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

var _ supervisor.MetricsRecorder = (*Exporter)(nil)

// StartSucceeded records a completed start
func (e *Exporter) StartSucceeded(_ string, duration time.Duration) {
	e.metrics.appStarts.WithLabelValues("success").Inc()
	e.metrics.appStartDuration.Observe(duration.Seconds())
}

// StartFailed records a rolled back start
func (e *Exporter) StartFailed(_ string, state supervisor.State) {
	e.metrics.appStarts.WithLabelValues("failure").Inc()
	e.metrics.appStartFailures.WithLabelValues(string(state)).Inc()
}

// Stopped records a stop. forced is set when a process had to be killed.
func (e *Exporter) Stopped(_ string, forced bool) {
	mode := "graceful"
	if forced {
		mode = "forced"
	}
	e.metrics.appStops.WithLabelValues(mode).Inc()
}

// InstancesRunning sets the running instance gauge
func (e *Exporter) InstancesRunning(n int) {
	e.metrics.instancesRunning.Set(float64(n))
}

// InstallFinished records a dependency installer run
func (e *Exporter) InstallFinished(platform string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	e.metrics.installs.WithLabelValues(platform, result).Inc()
}

// PortAllocation is a ports.Observer
func (e *Exporter) PortAllocation(attempts int, err error) {
	e.metrics.portAllocAttempts.Observe(float64(attempts))
	if errors.Is(err, ports.ErrPortExhaustion) {
		e.metrics.portExhaustions.Inc()
	}
}
