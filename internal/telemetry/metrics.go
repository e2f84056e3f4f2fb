package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every handler.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var RuntimesCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "runtimes",
		Name:      "created_total",
		Help:      "Total number of runtimes successfully provisioned.",
	},
)

var RuntimesDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "runtimes",
		Name:      "deleted_total",
		Help:      "Total number of runtimes torn down.",
	},
)

var RuntimesCreateFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "runtimes",
		Name:      "create_failed_total",
		Help:      "Total number of runtime creation attempts that rolled back.",
	},
)

var AgentsStartedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "agents",
		Name:      "started_total",
		Help:      "Total number of agents successfully started.",
	},
)

var HealthchecksFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "reconciler",
		Name:      "healthchecks_failed_total",
		Help:      "Total number of runtime healthchecks, by outcome (success or failure).",
	},
	[]string{"outcome"},
)

var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "tasks",
		Name:      "duration_seconds",
		Help:      "Task body execution duration in seconds, by kind and status.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"kind", "status"},
)

var TasksProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "tasks",
		Name:      "processed_total",
		Help:      "Total number of task bodies executed, by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// All returns every control-plane-specific metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RuntimesCreatedTotal,
		RuntimesDeletedTotal,
		RuntimesCreateFailedTotal,
		AgentsStartedTotal,
		HealthchecksFailedTotal,
		TaskDuration,
		TasksProcessedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTP duration metric, and the control-plane-specific collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
