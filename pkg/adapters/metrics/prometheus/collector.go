package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var phases = []string{"idle", "committing", "running", "reverting", "cascade_replaying"}

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	reverts        *prometheus.CounterVec
	revertDuration *prometheus.HistogramVec
	unitRuns       *prometheus.CounterVec
	cascadeLength  prometheus.Histogram
	errors         *prometheus.CounterVec
	deferred       prometheus.Counter
	queueDepth     prometheus.Gauge
	phase          *prometheus.GaugeVec

	// Health monitor
	healthy     prometheus.Gauge
	backlog     prometheus.Gauge
	checkpoints prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellvert_commits_total",
				Help: "Total number of backend commits",
			},
			[]string{"status"},
		),
		commitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellvert_commit_duration_seconds",
				Help:    "Backend commit duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		),
		reverts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellvert_reverts_total",
				Help: "Total number of backend reverts",
			},
			[]string{"status"},
		),
		revertDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellvert_revert_duration_seconds",
				Help:    "Backend revert duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		),
		unitRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellvert_unit_runs_total",
				Help: "Total number of units the host was asked to run",
			},
			[]string{"replay"},
		),
		cascadeLength: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cellvert_cascade_length",
				Help:    "Number of units replayed per cascade",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellvert_errors_total",
				Help: "Total number of errors surfaced to the host",
			},
			[]string{"code"},
		),
		deferred: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cellvert_deferred_events_total",
				Help: "Total number of events deferred while a cycle was in flight",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellvert_queue_depth",
				Help: "Current depth of the event queue",
			},
		),
		phase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cellvert_phase",
				Help: "Current orchestrator phase (1 for the active phase)",
			},
			[]string{"phase"},
		),
		healthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellvert_healthy",
				Help: "1 when the orchestrator is healthy",
			},
		),
		backlog: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellvert_backlog",
				Help: "Events submitted but not yet settled",
			},
		),
		checkpoints: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellvert_checkpoints",
				Help: "Number of units with a live checkpoint",
			},
		),
	}
}

// RecordCommit records a backend commit
func (c *Collector) RecordCommit(status string, duration time.Duration) {
	c.commits.WithLabelValues(status).Inc()
	c.commitDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRevert records a backend revert
func (c *Collector) RecordRevert(status string, duration time.Duration) {
	c.reverts.WithLabelValues(status).Inc()
	c.revertDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordUnitRun records a run request sent to the host
func (c *Collector) RecordUnitRun(replay bool) {
	label := "false"
	if replay {
		label = "true"
	}
	c.unitRuns.WithLabelValues(label).Inc()
}

// RecordCascade records a completed cascade
func (c *Collector) RecordCascade(length int) {
	c.cascadeLength.Observe(float64(length))
}

// RecordError records a surfaced error by code
func (c *Collector) RecordError(code string) {
	c.errors.WithLabelValues(code).Inc()
}

// RecordDeferred records a deferred event
func (c *Collector) RecordDeferred() {
	c.deferred.Inc()
}

// SetQueueDepth sets the current depth of the event queue
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetPhase marks phase as the active one
func (c *Collector) SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
}

// RecordHealth records the outcome of a health check
func (c *Collector) RecordHealth(healthy bool, backlog int64, checkpoints int) {
	v := 0.0
	if healthy {
		v = 1
	}
	c.healthy.Set(v)
	c.backlog.Set(float64(backlog))
	c.checkpoints.Set(float64(checkpoints))
}
