// Package metrics exposes Prometheus instrumentation for DispatchPipe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and gauges for the webhook and dispatch flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	inboundTotal    *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	dispatchesTotal *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchpipe",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound webhook events",
		}, []string{"provider", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchpipe",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound message sends",
		}, []string{"provider", "status"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchpipe",
			Subsystem: "dispatch",
			Name:      "completed_total",
			Help:      "Total completed emergency dispatches",
		}, []string{"emergency_type"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatchpipe",
			Subsystem: "dispatch",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in the store",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.dispatchesTotal, m.activeSessions)
	return m
}

// ObserveInbound records a webhook event. Outcome is one of
// "processed", "ignored" or "rejected".
func (m *Metrics) ObserveInbound(provider, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveOutbound records an outbound send attempt.
func (m *Metrics) ObserveOutbound(provider string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.outboundTotal.WithLabelValues(provider, status).Inc()
}

// ObserveDispatch records a completed emergency dispatch.
func (m *Metrics) ObserveDispatch(emergencyType string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(emergencyType).Inc()
}

// SetActiveSessions updates the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
