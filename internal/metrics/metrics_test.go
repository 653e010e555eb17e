package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive metric is nil")
	}
	if m.BytesInboundToRemote == nil {
		t.Error("BytesInboundToRemote metric is nil")
	}
	if m.HandshakeFailureTotal == nil {
		t.Error("HandshakeFailureTotal metric is nil")
	}
}

func TestConnectionLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ConnectionsActive.Inc()
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Dec()
	m.DisposalsTotal.WithLabelValues("closed").Inc()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("ConnectionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 2 {
		t.Errorf("ConnectionsTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DisposalsTotal.WithLabelValues("closed")); got != 1 {
		t.Errorf("DisposalsTotal[closed] = %v, want 1", got)
	}
}

func TestByteTransferMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.BytesInboundToRemote.Add(1000)
	m.BytesInboundToRemote.Add(500)
	m.BytesRemoteToOutbound.Add(2000)

	if got := testutil.ToFloat64(m.BytesInboundToRemote); got != 1500 {
		t.Errorf("BytesInboundToRemote = %v, want 1500", got)
	}
	if got := testutil.ToFloat64(m.BytesRemoteToOutbound); got != 2000 {
		t.Errorf("BytesRemoteToOutbound = %v, want 2000", got)
	}
}

func TestHandshakeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.HandshakeSuccessTotal.Inc()
	m.HandshakeSuccessTotal.Inc()
	m.HandshakeFailureTotal.WithLabelValues("malformed").Inc()
	m.HandshakeLatency.Observe(0.01)

	if got := testutil.ToFloat64(m.HandshakeSuccessTotal); got != 2 {
		t.Errorf("HandshakeSuccessTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HandshakeFailureTotal.WithLabelValues("malformed")); got != 1 {
		t.Errorf("HandshakeFailureTotal[malformed] = %v, want 1", got)
	}
}

func TestKeepaliveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.KeepalivesSent.Inc()
	m.KeepalivesSent.Inc()
	m.KeepalivesRecv.Inc()

	if got := testutil.ToFloat64(m.KeepalivesSent); got != 2 {
		t.Errorf("KeepalivesSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KeepalivesRecv); got != 1 {
		t.Errorf("KeepalivesRecv = %v, want 1", got)
	}
}

func TestAdmissionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.AcceptsTotal.Inc()
	m.AcceptsRateLimited.Inc()
	m.RemoteDialFailures.WithLabelValues("timeout").Inc()

	if got := testutil.ToFloat64(m.AcceptsTotal); got != 1 {
		t.Errorf("AcceptsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RemoteDialFailures.WithLabelValues("timeout")); got != 1 {
		t.Errorf("RemoteDialFailures[timeout] = %v, want 1", got)
	}
}

func TestDefaultMetrics(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
	if m1 == nil {
		t.Error("Default() returned nil")
	}
}
