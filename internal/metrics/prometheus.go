package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netscope metrics
	namespace = "netscope"

	// Subsystems
	subsystemProbe       = "probe"
	subsystemDiscovery   = "discovery"
	subsystemServices    = "services"
	subsystemDiagnostics = "diagnostics"
	subsystemAPI         = "api"
	subsystemSystem      = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Discovery metrics
	discoveryRuns     *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	hostsDiscovered   *prometheus.CounterVec
	activeRuns        *prometheus.GaugeVec

	// Service scan metrics
	servicesProbed *prometheus.CounterVec
	scanDuration   prometheus.Histogram

	// Diagnostics metrics
	diagnosticSteps *prometheus.CounterVec
	diagnosticRuns  *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initEngineMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probe primitive calls by probe and outcome",
		},
		[]string{"probe", "outcome"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of individual probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"probe"},
	)
}

func (pm *PrometheusMetrics) initEngineMetrics() {
	pm.discoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "runs_total",
			Help:      "Total number of discovery runs by completion status",
		},
		[]string{"status"},
	)

	pm.discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "duration_seconds",
			Help:      "Duration of discovery runs in seconds",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	pm.hostsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Total number of hosts confirmed, by strategy",
		},
		[]string{"source"},
	)

	pm.activeRuns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "active_runs",
			Help:      "Number of runs currently in progress by kind",
		},
		[]string{"kind"},
	)

	pm.servicesProbed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServices,
			Name:      "probed_total",
			Help:      "Total number of host/service pairs probed, by port state",
		},
		[]string{"state"},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemServices,
			Name:      "duration_seconds",
			Help:      "Duration of service scans in seconds",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	pm.diagnosticSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiagnostics,
			Name:      "steps_total",
			Help:      "Total number of diagnostic steps finished, by step and status",
		},
		[]string{"step", "status"},
	)

	pm.diagnosticRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiagnostics,
			Name:      "runs_total",
			Help:      "Total number of diagnostic runs by outcome",
		},
		[]string{"outcome"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.discoveryRuns,
		pm.discoveryDuration,
		pm.hostsDiscovered,
		pm.activeRuns,
		pm.servicesProbed,
		pm.scanDuration,
		pm.diagnosticSteps,
		pm.diagnosticRuns,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// ObserveProbe records one probe primitive call.
func (pm *PrometheusMetrics) ObserveProbe(probe, outcome string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(probe, outcome).Inc()
	pm.probeDuration.WithLabelValues(probe).Observe(duration.Seconds())
}

// ObserveDiscovery records a finished discovery run.
func (pm *PrometheusMetrics) ObserveDiscovery(incomplete bool, duration time.Duration) {
	pm.discoveryRuns.WithLabelValues(completionStatus(incomplete)).Inc()
	pm.discoveryDuration.Observe(duration.Seconds())
}

// IncrementHostsDiscovered adds confirmed hosts for a strategy.
func (pm *PrometheusMetrics) IncrementHostsDiscovered(source string, count int) {
	pm.hostsDiscovered.WithLabelValues(source).Add(float64(count))
}

// IncrementServicesProbed counts one probed host/service pair.
func (pm *PrometheusMetrics) IncrementServicesProbed(state string) {
	pm.servicesProbed.WithLabelValues(state).Inc()
}

// ObserveServiceScan records a finished service scan.
func (pm *PrometheusMetrics) ObserveServiceScan(duration time.Duration) {
	pm.scanDuration.Observe(duration.Seconds())
}

// IncrementDiagnosticStep counts a finished diagnostic step.
func (pm *PrometheusMetrics) IncrementDiagnosticStep(step, status string) {
	pm.diagnosticSteps.WithLabelValues(step, status).Inc()
}

// IncrementDiagnosticRuns counts a finished diagnostic run.
func (pm *PrometheusMetrics) IncrementDiagnosticRuns(outcome string) {
	pm.diagnosticRuns.WithLabelValues(outcome).Inc()
}

// RunStarted increments the active run gauge for kind.
func (pm *PrometheusMetrics) RunStarted(kind string) {
	pm.activeRuns.WithLabelValues(kind).Inc()
}

// RunFinished decrements the active run gauge for kind.
func (pm *PrometheusMetrics) RunFinished(kind string) {
	pm.activeRuns.WithLabelValues(kind).Dec()
}

// ObserveHTTPRequest records an API request.
func (pm *PrometheusMetrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, route, status).Inc()
	pm.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes goroutine and uptime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// GetUptime returns the time since the metrics were created.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

func completionStatus(incomplete bool) string {
	if incomplete {
		return "incomplete"
	}
	return "complete"
}

// Global instance for easy access
var (
	globalMetrics     *PrometheusMetrics
	globalMetricsOnce sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
