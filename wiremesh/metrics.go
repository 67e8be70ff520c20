package wiremesh

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges the listener and client update
// as connections come and go. A zero-value Metrics with nil fields is
// not usable; always construct with NewMetrics and register the result.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	HandshakeFailures   prometheus.Counter
	FramesSent          prometheus.Counter
	FramesReceived      prometheus.Counter
	DispatchErrors      *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
}

// NewMetrics builds a Metrics instance under the given namespace,
// registering every collector with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Total TCP connections accepted by the listener.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Currently open connections.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_failures_total",
			Help: "Handshakes that failed cipher negotiation or authentication.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Total frames written across all sockets.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Total frames read across all sockets.",
		}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_errors_total",
			Help: "Handler dispatch failures by error kind.",
		}, []string{"kind"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently present in the registry.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnect_attempts_total",
			Help: "Client reconnect attempts, successful or not.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted, m.ConnectionsActive, m.HandshakeFailures,
		m.FramesSent, m.FramesReceived, m.DispatchErrors,
		m.SessionsActive, m.ReconnectAttempts,
	)
	return m
}
