package report

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/birrulwldain/jobwrap/internal/observe"
)

// Metrics are boring gauges describing one run. Every value can be
// explained by looking at the RunResult and the two snapshots.
type Metrics struct {
	registry *prometheus.Registry

	success         prometheus.Gauge
	exitCode        prometheus.Gauge
	signaled        prometheus.Gauge
	duration        prometheus.Gauge
	startTime       prometheus.Gauge
	maxRSS          prometheus.Gauge
	memoryUsed      *prometheus.GaugeVec
	memoryAvailable *prometheus.GaugeVec
}

// NewMetrics creates a per-run registry labelled with the job identity
func NewMetrics(jobID, jobName string) *Metrics {
	labels := prometheus.Labels{"job_id": jobID, "job_name": jobName}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "jobwrap",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		success:   gauge("job_success", "1 if the workload exited with status 0"),
		exitCode:  gauge("job_exit_code", "Exit code propagated by the wrapper"),
		signaled:  gauge("job_signaled", "1 if the workload was terminated by a signal"),
		duration:  gauge("job_duration_seconds", "Wall-clock runtime of the workload"),
		startTime: gauge("job_start_time_seconds", "Unix time the workload started"),
		maxRSS:    gauge("job_max_rss_bytes", "Peak resident set size of the workload"),
		memoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "jobwrap",
			Name:        "memory_used_bytes",
			Help:        "Node memory in use at snapshot time",
			ConstLabels: labels,
		}, []string{"phase"}),
		memoryAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "jobwrap",
			Name:        "memory_available_bytes",
			Help:        "Node memory available at snapshot time",
			ConstLabels: labels,
		}, []string{"phase"}),
	}

	m.registry.MustRegister(
		m.success, m.exitCode, m.signaled, m.duration,
		m.startTime, m.maxRSS, m.memoryUsed, m.memoryAvailable,
	)
	return m
}

// Registry exposes the run registry for HTTP serving
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResult sets the job gauges from a single immutable RunResult
func (m *Metrics) RecordResult(r *RunResult) {
	m.success.Set(boolGauge(r.Succeeded()))
	_, code := Classify(r)
	m.exitCode.Set(float64(code))
	m.signaled.Set(boolGauge(r.Termination == Signaled))
	m.duration.Set(r.Duration.Seconds())
	if !r.StartTime.IsZero() {
		m.startTime.Set(float64(r.StartTime.UnixNano()) / 1e9)
	}
	m.maxRSS.Set(float64(r.MaxRSSKiB * 1024))
}

// RecordSnapshot sets the memory gauges for the snapshot's phase
func (m *Metrics) RecordSnapshot(s *observe.ResourceSnapshot) {
	if s == nil {
		return
	}
	m.memoryUsed.WithLabelValues(s.Label).Set(float64(s.MemUsed))
	m.memoryAvailable.WithLabelValues(s.Label).Set(float64(s.MemAvailable))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
