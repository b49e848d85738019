package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the planner's Prometheus instruments.
type Metrics struct {
	PlanDuration   *prometheus.HistogramVec
	TasksPlanned   prometheus.Counter
	CacheHits      *prometheus.CounterVec
	BinaryGroups   prometheus.Counter
}

// NewMetrics registers the planner's metrics against reg. Pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rustle_plan",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock time spent in each planning phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		TasksPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rustle_plan",
			Name:      "tasks_planned_total",
			Help:      "Total number of TaskPlans emitted across all plans.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rustle_plan",
			Name:      "cache_lookups_total",
			Help:      "Plan cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		BinaryGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rustle_plan",
			Name:      "binary_deployments_total",
			Help:      "Total number of BinaryDeployments emitted.",
		}),
	}

	reg.MustRegister(m.PlanDuration, m.TasksPlanned, m.CacheHits, m.BinaryGroups)
	return m
}

// ObservePhase records how long a planning phase took.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	m.PlanDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
