// Package metrics exposes harness counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omxconf_commands_sent_total",
		Help: "Total number of SendCommand calls issued to components",
	}, []string{"component", "command"})
	CommandTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omxconf_command_timeouts_total",
		Help: "Total number of command completion waits that timed out",
	}, []string{"component", "command"})
	BuffersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omxconf_buffers_submitted_total",
		Help: "Total number of EmptyThisBuffer/FillThisBuffer calls",
	}, []string{"component", "direction"})
	BuffersReturned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omxconf_buffers_returned_total",
		Help: "Total number of EmptyBufferDone/FillBufferDone callbacks",
	}, []string{"component", "direction"})
	ScenarioResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omxconf_scenario_results_total",
		Help: "Scenario outcomes by name and verdict",
	}, []string{"scenario", "result"})
)

// ComponentMetrics binds the per-component series once so the hot paths do
// not repeat label lookups.
type ComponentMetrics struct {
	InputSubmitted  prometheus.Counter
	OutputSubmitted prometheus.Counter
	InputReturned   prometheus.Counter
	OutputReturned  prometheus.Counter

	name string
}

// NewComponentMetrics returns the series for component name.
func NewComponentMetrics(name string) *ComponentMetrics {
	m := &ComponentMetrics{
		InputSubmitted:  BuffersSubmitted.WithLabelValues(name, "input"),
		OutputSubmitted: BuffersSubmitted.WithLabelValues(name, "output"),
		InputReturned:   BuffersReturned.WithLabelValues(name, "input"),
		OutputReturned:  BuffersReturned.WithLabelValues(name, "output"),
		name:            name,
	}
	m.InputSubmitted.Add(0)
	m.OutputSubmitted.Add(0)
	m.InputReturned.Add(0)
	m.OutputReturned.Add(0)
	return m
}

// Command counts one SendCommand.
func (m *ComponentMetrics) Command(cmd string) {
	CommandsSent.WithLabelValues(m.name, cmd).Inc()
}

// Timeout counts one expired completion wait.
func (m *ComponentMetrics) Timeout(cmd string) {
	CommandTimeouts.WithLabelValues(m.name, cmd).Inc()
}

// Scenario counts one scenario verdict ("pass" or "fail").
func Scenario(name string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	ScenarioResults.WithLabelValues(name, result).Inc()
}

// Handler should usually be mounted at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
