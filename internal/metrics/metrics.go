// Package metrics provides Prometheus metrics for the udsrelay endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "udsrelay"

// Metrics contains every Prometheus metric the relay core and its
// surrounding admission/transport layers emit.
type Metrics struct {
	// Connection lifecycle
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	DisposalsTotal    *prometheus.CounterVec

	// Data transfer, one counter per leg
	BytesInboundToRemote  prometheus.Counter
	BytesRemoteToOutbound prometheus.Counter

	// Handshake codec
	HandshakeSuccessTotal prometheus.Counter
	HandshakeFailureTotal *prometheus.CounterVec
	HandshakeLatency      prometheus.Histogram

	// Keep-alive subsystem
	KeepalivesSent prometheus.Counter
	KeepalivesRecv prometheus.Counter

	// Admission control (internal/listener)
	AcceptsTotal        prometheus.Counter
	AcceptsRateLimited  prometheus.Counter
	RemoteDialFailures  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered against
// prometheus.DefaultRegisterer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance against a caller-supplied
// registry, used by tests that need an isolated registry per case.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of relay connections currently established",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total relay connections successfully established",
		}),
		DisposalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disposals_total",
			Help:      "Total connection disposals by reason",
		}, []string{"reason"}),

		BytesInboundToRemote: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_inbound_to_remote_total",
			Help:      "Total bytes relayed from inbound transmissions to remote sockets",
		}),
		BytesRemoteToOutbound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_remote_to_outbound_total",
			Help:      "Total bytes relayed from remote sockets to outbound transmissions",
		}),

		HandshakeSuccessTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_success_total",
			Help:      "Total obfuscated handshakes completed successfully",
		}),
		HandshakeFailureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failure_total",
			Help:      "Total obfuscated handshake failures by cause",
		}, []string{"cause"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake round-trip latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total keep-alive probes sent",
		}),
		KeepalivesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total keep-alive probes drained",
		}),

		AcceptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepts_total",
			Help:      "Total inbound connections accepted",
		}),
		AcceptsRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepts_rate_limited_total",
			Help:      "Total inbound connections rejected by the admission limiter",
		}),
		RemoteDialFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_dial_failures_total",
			Help:      "Total remote socket dial failures by cause",
		}, []string{"cause"}),
	}
}
