// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	reportsTotal     prometheus.Counter
	reportDuration   prometheus.Histogram
	reportBlockers   prometheus.Histogram
	sectionsDegraded *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	sweepRunsTotal   *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
}

// NewCollector registers and returns the engine metrics.
func NewCollector() *Collector {
	return &Collector{
		reportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "readiness_reports_total",
			Help: "Total readiness reports computed",
		}),
		reportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "readiness_report_duration_seconds",
			Help:    "Time spent computing readiness reports",
			Buckets: prometheus.DefBuckets,
		}),
		reportBlockers: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "readiness_report_blockers",
			Help:    "Blocker count per computed report",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		sectionsDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "readiness_sections_degraded_total",
			Help: "Report sections that fell back to their empty value",
		}, []string{"section"}),
		transitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "readiness_transitions_total",
			Help: "Status transitions attempted",
		}, []string{"entity", "target", "outcome"}),
		sweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "readiness_sweep_runs_total",
			Help: "Validation sweep runs",
		}, []string{"outcome"}),
		sweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "readiness_sweep_duration_seconds",
			Help:    "Time spent on validation sweeps",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveReport records one report computation.
func (c *Collector) ObserveReport(duration time.Duration, blockers int) {
	c.reportsTotal.Inc()
	c.reportDuration.Observe(duration.Seconds())
	c.reportBlockers.Observe(float64(blockers))
}

// SectionDegraded records a report section falling back to its default.
func (c *Collector) SectionDegraded(section string) {
	c.sectionsDegraded.WithLabelValues(section).Inc()
}

// TransitionApplied records a status transition attempt.
func (c *Collector) TransitionApplied(entity, target string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	c.transitionsTotal.WithLabelValues(entity, target, outcome).Inc()
}

// ObserveSweep records one validation sweep run.
func (c *Collector) ObserveSweep(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.sweepRunsTotal.WithLabelValues(outcome).Inc()
	c.sweepDuration.Observe(duration.Seconds())
}
