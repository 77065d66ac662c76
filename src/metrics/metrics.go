// Package metrics exposes Prometheus collectors for the reconciliation cycle,
// vote intake and background jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "govtally"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	cycles      *prometheus.CounterVec
	cycleTime   prometheus.Histogram
	discovered  prometheus.Counter
	retired     prometheus.Counter
	expired     prometheus.Counter
	swept       prometheus.Counter
	activeGauge prometheus.Gauge
	liveThreads prometheus.Gauge
	votes       *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobTime     *prometheus.HistogramVec
	pings       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by result.",
		}, []string{"result"}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_discovered_total",
			Help:      "Proposals seen for the first time.",
		}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_retired_total",
			Help:      "Vote records moved to the archive.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_expired_total",
			Help:      "Proposals that left the active set without a thread.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_swept_total",
			Help:      "Terminal proposals removed from the registry.",
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_proposals",
			Help:      "Proposals in the active set at the last cycle.",
		}),
		liveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_threads",
			Help:      "Vote records in the live document.",
		}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote submissions by channel and outcome.",
		}, []string{"channel", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Autonomous decisions by direction.",
		}, []string{"decision"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		jobTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_pings_total",
			Help:      "Proposal source health checks by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleTime, m.discovered, m.retired, m.expired, m.swept,
		m.activeGauge, m.liveThreads, m.votes, m.decisions, m.jobRuns, m.jobTime, m.pings,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CycleResult is what one reconciliation cycle did.
type CycleResult struct {
	Active     int
	Discovered int
	Retired    int
	Expired    int
	Swept      int
	Live       int
	Took       time.Duration
	Err        error
}

// ObserveCycle records one reconciliation cycle. Nil receivers are ignored so
// callers need not guard optional metrics.
func (m *Metrics) ObserveCycle(r CycleResult) {
	if m == nil {
		return
	}
	m.cycleTime.Observe(r.Took.Seconds())
	if r.Err != nil {
		m.cycles.WithLabelValues("error").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.activeGauge.Set(float64(r.Active))
	m.liveThreads.Set(float64(r.Live))
	m.discovered.Add(float64(r.Discovered))
	m.retired.Add(float64(r.Retired))
	m.expired.Add(float64(r.Expired))
	m.swept.Add(float64(r.Swept))
}

// ObserveVote counts a vote submission. channel is "discord" or "api".
func (m *Metrics) ObserveVote(channel, outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(channel, outcome).Inc()
}

// ObserveDecision counts an autonomous decision.
func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// ObserveJob matches the job runner's observer signature.
func (m *Metrics) ObserveJob(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobTime.WithLabelValues(job).Observe(took.Seconds())
}

// ObservePing counts a source health check.
func (m *Metrics) ObservePing(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pings.WithLabelValues(result).Inc()
}
