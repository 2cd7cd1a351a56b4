// Package metric exposes the dispatcher's Prometheus metrics on its own
// registry so tests never collide with the global default.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/godnc/pkg/model"
)

// Metrics holds all dispatcher metrics.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	DispatchesTotal  *prometheus.CounterVec
	TasksDispatched  prometheus.Counter
	TasksFailed      prometheus.Counter
	MachinesByStatus *prometheus.GaugeVec
	ProtocolTimeouts *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
}

// New creates the metric set and registers it, along with the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of completed scheduling cycles",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "godnc",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Scheduling cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "scheduler",
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by machine and outcome",
		}, []string{"machine", "outcome"}),
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "scheduler",
			Name:      "tasks_dispatched_total",
			Help:      "Tasks successfully dispatched to a machine",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "scheduler",
			Name:      "dispatch_failures_total",
			Help:      "Dispatch attempts that failed",
		}),
		MachinesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "godnc",
			Subsystem: "machines",
			Name:      "by_status",
			Help:      "Number of machines currently in each status",
		}, []string{"status"}),
		ProtocolTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "protocol",
			Name:      "timeouts_total",
			Help:      "Protocol request timeouts by machine",
		}, []string{"machine"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godnc",
			Subsystem: "protocol",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by machine",
		}, []string{"machine"}),
	}

	m.registry.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.DispatchesTotal,
		m.TasksDispatched, m.TasksFailed, m.MachinesByStatus,
		m.ProtocolTimeouts, m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted records one finished scheduling cycle.
func (m *Metrics) CycleCompleted(duration time.Duration, dispatched, failed int) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(duration.Seconds())
	m.TasksDispatched.Add(float64(dispatched))
	m.TasksFailed.Add(float64(failed))
}

// DispatchResult records one dispatch attempt outcome.
func (m *Metrics) DispatchResult(machineID, outcome string) {
	m.DispatchesTotal.WithLabelValues(machineID, outcome).Inc()
}

// ObserveMachines refreshes the machines-by-status gauge from a registry
// snapshot.
func (m *Metrics) ObserveMachines(machines []model.Machine) {
	counts := map[model.MachineStatus]int{
		model.MachineOff: 0, model.MachineIdle: 0, model.MachineRunning: 0,
		model.MachineAlarm: 0, model.MachineStopped: 0, model.MachinePaused: 0,
	}
	for _, machine := range machines {
		counts[machine.Status]++
	}
	for status, n := range counts {
		m.MachinesByStatus.WithLabelValues(status.String()).Set(float64(n))
	}
}

// TimeoutObserved records a protocol request timeout.
func (m *Metrics) TimeoutObserved(machineID string) {
	m.ProtocolTimeouts.WithLabelValues(machineID).Inc()
}

// ReconnectObserved records one reconnect attempt.
func (m *Metrics) ReconnectObserved(machineID string) {
	m.Reconnects.WithLabelValues(machineID).Inc()
}
