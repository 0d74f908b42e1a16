// Package metrics exposes program-state gauges and restart/escalation
// counters via github.com/prometheus/client_golang, served on a small
// net/http mux alongside the grpc listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"overseerd/internal/fsm"
	"overseerd/internal/subscriber"
)

// allStates lists every state tag so the gauge can be zeroed for states
// a program is not currently in, avoiding stale "still running" readings
// in dashboards built on the sum of this gauge.
var allStates = []fsm.State{
	fsm.StateStopped, fsm.StateExited, fsm.StateBackoff,
	fsm.StateStarting, fsm.StateRunning, fsm.StateStopping, fsm.StateExiting,
}

// Registry bundles the prometheus collectors overseerd reports.
type Registry struct {
	reg *prometheus.Registry

	programState *prometheus.GaugeVec
	restarts     *prometheus.CounterVec
	sigkills     *prometheus.CounterVec
}

// New constructs a Registry with its own prometheus.Registry, so
// importing this package never pollutes prometheus's global default
// registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		programState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overseerd",
			Name:      "program_state",
			Help:      "1 if the program is currently in this state, 0 otherwise.",
		}, []string{"program", "state"}),
		restarts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "overseerd",
			Name:      "program_restarts_total",
			Help:      "Number of times a program entered Backoff after a failed run.",
		}, []string{"program"}),
		sigkills: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "overseerd",
			Name:      "program_sigkills_total",
			Help:      "Number of times a program's termination protocol escalated to SIGKILL.",
		}, []string{"program"}),
	}
	return m
}

// Handler returns the net/http handler that serves this registry's
// metrics in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveSnapshot sets the program_state gauge for every (program, state)
// pair implied by snap, zeroing every other state for the same program.
func (m *Registry) ObserveSnapshot(snap subscriber.Snapshot) {
	for _, p := range snap {
		for _, s := range allStates {
			v := 0.0
			if s.String() == p.State {
				v = 1.0
			}
			m.programState.WithLabelValues(p.Name, s.String()).Set(v)
		}
	}
}

// RecordRestart increments the restart counter for program.
func (m *Registry) RecordRestart(program string) {
	m.restarts.WithLabelValues(program).Inc()
}

// RecordSigkill increments the SIGKILL-escalation counter for program.
func (m *Registry) RecordSigkill(program string) {
	m.sigkills.WithLabelValues(program).Inc()
}
