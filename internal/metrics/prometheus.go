// Package metrics provides Prometheus-based metrics collection for netscan.
// Collectors live on a private registry so tests and concurrent sessions do
// not collide with the default registry; a finished run can be written out
// in the node_exporter textfile format.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "netscan"

	subsystemDiscovery = "discovery"
	subsystemScan      = "scan"
	subsystemDetection = "detection"
	subsystemSession   = "session"
	subsystemPool      = "pool"
)

// PrometheusMetrics holds all netscan collectors.
type PrometheusMetrics struct {
	discoveryProbes *prometheus.CounterVec
	hostsLive       *prometheus.CounterVec
	discoveryRTT    prometheus.Histogram

	portsScanned *prometheus.CounterVec
	scanAttempts *prometheus.CounterVec

	detections *prometheus.CounterVec

	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram

	poolJobs     *prometheus.CounterVec
	poolInFlight *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a metrics instance with its own registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	pm.discoveryProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemDiscovery,
		Name:      "probes_total",
		Help:      "Liveness probes sent by mode and outcome",
	}, []string{"mode", "result"})

	pm.hostsLive = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemDiscovery,
		Name:      "hosts_live_total",
		Help:      "Hosts confirmed live by mode",
	}, []string{"mode"})

	pm.discoveryRTT = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystemDiscovery,
		Name:      "rtt_seconds",
		Help:      "Round trip time of successful liveness probes",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	pm.portsScanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "ports_total",
		Help:      "Ports classified by transport and status",
	}, []string{"transport", "status"})

	pm.scanAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "attempts_total",
		Help:      "Connection attempts by transport",
	}, []string{"transport"})

	pm.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemDetection,
		Name:      "results_total",
		Help:      "Service detection outcomes by protocol",
	}, []string{"protocol", "result"})

	pm.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemSession,
		Name:      "total",
		Help:      "Scan sessions by final status",
	}, []string{"status"})

	pm.sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystemSession,
		Name:      "duration_seconds",
		Help:      "Wall time of scan sessions",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
	})

	pm.poolJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemPool,
		Name:      "jobs_total",
		Help:      "Jobs executed by worker pools",
	}, []string{"pool", "status"})

	pm.poolInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemPool,
		Name:      "in_flight",
		Help:      "Jobs currently executing per pool",
	}, []string{"pool"})

	pm.registry.MustRegister(
		pm.discoveryProbes, pm.hostsLive, pm.discoveryRTT,
		pm.portsScanned, pm.scanAttempts,
		pm.detections,
		pm.sessions, pm.sessionDuration,
		pm.poolJobs, pm.poolInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return pm
}

// GetRegistry returns the registry holding every collector.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// RecordProbe counts a discovery probe and, when it succeeded, its RTT.
func (pm *PrometheusMetrics) RecordProbe(mode string, alive bool, rtt time.Duration) {
	result := "dead"
	if alive {
		result = "alive"
		pm.discoveryRTT.Observe(rtt.Seconds())
	}
	pm.discoveryProbes.WithLabelValues(mode, result).Inc()
}

// IncrementHostsLive counts hosts confirmed live.
func (pm *PrometheusMetrics) IncrementHostsLive(mode string, count int) {
	pm.hostsLive.WithLabelValues(mode).Add(float64(count))
}

// RecordPort counts a classified port and the attempts it took.
func (pm *PrometheusMetrics) RecordPort(transport, status string, attempts int) {
	pm.portsScanned.WithLabelValues(transport, status).Inc()
	pm.scanAttempts.WithLabelValues(transport).Add(float64(attempts))
}

// RecordDetection counts a detector outcome: "match", "miss" or "error".
func (pm *PrometheusMetrics) RecordDetection(protocol, result string) {
	pm.detections.WithLabelValues(protocol, result).Inc()
}

// RecordSession counts a finished session and its duration.
func (pm *PrometheusMetrics) RecordSession(status string, duration time.Duration) {
	pm.sessions.WithLabelValues(status).Inc()
	pm.sessionDuration.Observe(duration.Seconds())
}

// JobStarted and JobFinished track worker pool activity.
func (pm *PrometheusMetrics) JobStarted(pool string) {
	pm.poolInFlight.WithLabelValues(pool).Inc()
}

// JobFinished decrements the in-flight gauge and counts the job.
func (pm *PrometheusMetrics) JobFinished(pool string, err error) {
	pm.poolInFlight.WithLabelValues(pool).Dec()
	status := "success"
	if err != nil {
		status = "error"
	}
	pm.poolJobs.WithLabelValues(pool, status).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, pm.registry)
}

var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
