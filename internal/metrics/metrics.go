// Package metrics provides in-process metrics collection for netscope.
// It supports counters, gauges, and histograms with labels, plus Prometheus
// collectors for the engines and the API server.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     uint64  // histogram observations
	Sum       float64 // histogram sum
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
	}
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value++
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeCounter,
			Value:     1,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	metric, exists := r.metrics[key]
	if !exists {
		metric = &Metric{
			Name:   name,
			Type:   TypeHistogram,
			Labels: copyLabels(labels),
		}
		r.metrics[key] = metric
	}
	// Value holds the last observation.
	metric.Value = value
	metric.Count++
	metric.Sum += value
	metric.Timestamp = time.Now()
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric)
	for key, metric := range r.metrics {
		// Create a copy to avoid race conditions
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Count:     metric.Count,
			Sum:       metric.Sum,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// makeKey creates a unique key for a metric based on name and labels.
func (r *Registry) makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":" + k + "=" + labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// SetDefault sets the default metrics registry.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	defaultRegistry.Counter(name, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	defaultRegistry.Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start  time.Time
	name   string
	labels Labels
}

// NewTimer creates a new timer for measuring execution time.
func NewTimer(name string, labels Labels) *Timer {
	return &Timer{
		start:  time.Now(),
		name:   name,
		labels: labels,
	}
}

// Stop stops the timer and records the duration as a histogram.
func (t *Timer) Stop() {
	duration := time.Since(t.start)
	Histogram(t.name, duration.Seconds(), t.labels)
}

// Predefined metric names for common operations.
const (
	// Worker pool metrics.
	MetricJobsSubmitted = "jobs_submitted_total"
	MetricJobsCompleted = "jobs_completed_total"
	MetricJobErrors     = "job_errors_total"
	MetricJobDuration   = "job_duration_seconds"
	MetricJobRetries    = "job_retry_count"
	MetricPoolSize      = "worker_pool_size"

	// Probe metrics.
	MetricProbesTotal   = "probes_total"
	MetricProbeDuration = "probe_duration_seconds"

	// Engine metrics.
	MetricDiscoveryDuration = "discovery_duration_seconds"
	MetricHostsDiscovered   = "hosts_discovered_total"
	MetricServicesDetected  = "services_detected_total"
	MetricDiagnosticSteps   = "diagnostic_steps_total"
)

// Common label keys.
const (
	LabelJobType   = "job_type"
	LabelProbe     = "probe"
	LabelOutcome   = "outcome"
	LabelNetwork   = "network"
	LabelSource    = "source"
	LabelStatus    = "status"
	LabelStep      = "step"
	LabelComponent = "component"
)

// Helper functions for common metrics

// RecordProbe records the outcome and duration of a single probe primitive
// call, in the default registry and in the Prometheus collectors.
func RecordProbe(probe, outcome string, duration time.Duration) {
	Counter(MetricProbesTotal, Labels{
		LabelProbe:   probe,
		LabelOutcome: outcome,
	})
	Histogram(MetricProbeDuration, duration.Seconds(), Labels{
		LabelProbe: probe,
	})
	GetGlobalMetrics().ObserveProbe(probe, outcome, duration)
}

// RecordDiscoveryDuration records the duration of a discovery run.
func RecordDiscoveryDuration(network string, duration time.Duration) {
	Histogram(MetricDiscoveryDuration, duration.Seconds(), Labels{
		LabelNetwork: network,
	})
}

// IncrementHostsDiscovered increments the hosts discovered counter for a strategy.
func IncrementHostsDiscovered(source string, count int) {
	for i := 0; i < count; i++ {
		Counter(MetricHostsDiscovered, Labels{
			LabelSource: source,
		})
	}
}

// IncrementServicesDetected counts a detected service by port state.
func IncrementServicesDetected(state string) {
	Counter(MetricServicesDetected, Labels{
		LabelStatus: state,
	})
}

// IncrementDiagnosticSteps counts a finished diagnostic step by status.
func IncrementDiagnosticSteps(step, status string) {
	Counter(MetricDiagnosticSteps, Labels{
		LabelStep:   step,
		LabelStatus: status,
	})
}
