package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveInbound("meta", "processed")
	m.ObserveInbound("meta", "processed")
	m.ObserveInbound("wati", "ignored")
	m.ObserveOutbound("meta", true)
	m.ObserveOutbound("meta", false)
	m.ObserveDispatch("fire")
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.inboundTotal.WithLabelValues("meta", "processed")); got != 2 {
		t.Errorf("inbound meta/processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outboundTotal.WithLabelValues("meta", "error")); got != 1 {
		t.Errorf("outbound meta/error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("fire")); got != 1 {
		t.Errorf("dispatches fire = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveInbound("meta", "processed")
	m.ObserveOutbound("meta", true)
	m.ObserveDispatch("medical")
	m.SetActiveSessions(0)
}
