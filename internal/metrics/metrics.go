// Package metrics exposes prometheus collectors for sessions, agent traffic,
// permission prompts and connected clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "claude_web"

// Metrics groups the server's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	SessionsStarted     *prometheus.CounterVec
	MessagesTotal       prometheus.Counter
	PermissionRequests  *prometheus.CounterVec
	PermissionDecisions *prometheus.CounterVec
	StreamFailures      prometheus.Counter
	Clients             prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions that currently own a live agent stream.",
		}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Agent streams started, by mode.",
		}, []string{"mode"}),
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_messages_total",
			Help:      "Agent events received across all sessions.",
		}),
		PermissionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_requests_total",
			Help:      "Tool permission prompts raised, by tool.",
		}, []string{"tool"}),
		PermissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Tool permission decisions delivered to the agent, by behavior.",
		}, []string{"behavior"}),
		StreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_stream_failures_total",
			Help:      "Agent streams that ended with an error other than cancellation.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsStarted,
		m.MessagesTotal,
		m.PermissionRequests,
		m.PermissionDecisions,
		m.StreamFailures,
		m.Clients,
	)
	return m
}

// SessionStarted records a stream start; mode is "new" or "resume".
func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	m.SessionsActive.Inc()
}

// SessionEnded records a session leaving the active set.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// AgentMessage records one agent event.
func (m *Metrics) AgentMessage() {
	if m == nil {
		return
	}
	m.MessagesTotal.Inc()
}

// PermissionRequested records a prompt for tool.
func (m *Metrics) PermissionRequested(tool string) {
	if m == nil {
		return
	}
	m.PermissionRequests.WithLabelValues(tool).Inc()
}

// PermissionDecided records a decision delivered to the agent.
func (m *Metrics) PermissionDecided(behavior string) {
	if m == nil {
		return
	}
	m.PermissionDecisions.WithLabelValues(behavior).Inc()
}

// StreamFailed records an agent stream failure.
func (m *Metrics) StreamFailed() {
	if m == nil {
		return
	}
	m.StreamFailures.Inc()
}

// ClientsConnected sets the connected client gauge.
func (m *Metrics) ClientsConnected(n int) {
	if m == nil {
		return
	}
	m.Clients.Set(float64(n))
}
