package raknet

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of Prometheus collectors a Session reports
// into. A nil *Metrics disables all counting, so constructing a Session
// without metrics costs nothing beyond the nil check.
//
// Grounded on runZeroInc-conniver's pkg/exporter package, the pack's only
// site that wires github.com/prometheus/client_golang against live
// per-connection state; simplified here to plain Counter/Gauge
// registrations rather than a custom Collector, since Session's metrics
// are simple running counts rather than a kernel struct snapshot.
type Metrics struct {
	sessionsOpened  prometheus.Counter
	sessionsClosed  prometheus.Counter
	retransmits     prometheus.Counter
	decodeErrors    prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "sessions_opened_total",
			Help: "Number of RakNet sessions that completed the offline handshake.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "sessions_closed_total",
			Help: "Number of RakNet sessions torn down, for any reason.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "retransmits_total",
			Help: "Number of datagrams resent due to RTO expiry or a NAK.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet", Name: "decode_errors_total",
			Help: "Number of datagrams rejected during decode.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "active_sessions",
			Help: "Number of RakNet sessions currently open.",
		}),
	}
	reg.MustRegister(m.sessionsOpened, m.sessionsClosed, m.retransmits, m.decodeErrors, m.activeSessions)
	return m
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
	m.activeSessions.Dec()
}

func (m *Metrics) retransmit(n int) {
	if m == nil {
		return
	}
	m.retransmits.Add(float64(n))
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
