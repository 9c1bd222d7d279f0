package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and gauges for one server instance.
// Each instance owns its registry, so tests can run several servers in one
// process without collector registration collisions.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsClosed   prometheus.Counter
	sessionsActive   prometheus.Gauge
	framesRead       prometheus.Counter
	framesSent       prometheus.Counter
	broadcasts       prometheus.Counter
	sendFailures     prometheus.Counter
	nicknameRejected prometheus.Counter
}

// NewMetrics creates a Metrics with all collectors registered on a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_sessions_created_total",
			Help: "Connections accepted since startup.",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_sessions_closed_total",
			Help: "Sessions removed since startup.",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lair_sessions_active",
			Help: "Live connections, pending and admitted.",
		}),
		framesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_frames_read_total",
			Help: "Frames read from clients.",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_frames_sent_total",
			Help: "Frames written to clients.",
		}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_broadcasts_total",
			Help: "Room-wide fan-outs performed.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_send_failures_total",
			Help: "Frame writes that failed and cost the recipient its session.",
		}),
		nicknameRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "lair_nickname_rejections_total",
			Help: "Nickname candidates rejected during negotiation.",
		}),
	}
}

// Handler serves this instance's metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionCreated increments the accepted connections counter.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionClosed increments the removed sessions counter.
func (m *Metrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// RecordActiveSessions sets the live connection gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordFrameRead increments the frames read counter.
func (m *Metrics) RecordFrameRead() {
	m.framesRead.Inc()
}

// RecordFrameSent increments the frames written counter.
func (m *Metrics) RecordFrameSent() {
	m.framesSent.Inc()
}

// RecordBroadcast increments the fan-out counter.
func (m *Metrics) RecordBroadcast() {
	m.broadcasts.Inc()
}

// RecordSendFailure increments the failed write counter.
func (m *Metrics) RecordSendFailure() {
	m.sendFailures.Inc()
}

// RecordNicknameRejection increments the rejected candidate counter.
func (m *Metrics) RecordNicknameRejection() {
	m.nicknameRejected.Inc()
}
