// Package prom adapts the observability.Observer interface to Prometheus
// collectors. Only the binaries import it; the server core stays free of
// the metrics client.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orcchg/ChatServer-sub000/pkg/observability"
)

// Metrics implements observability.Observer on top of Prometheus
// collectors registered against a single registerer.
type Metrics struct {
	connsOpen       *prometheus.GaugeVec
	peersLive       prometheus.Gauge
	messagesTotal   *prometheus.CounterVec
	fanoutSize      prometheus.Histogram
	frameErrors     prometheus.Counter
	queueOverflows  prometheus.Counter
	handshakeEvents *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Registration failures panic, matching promauto conventions: a duplicate
// registration is a programming error.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_connections_open",
			Help: "Open connections per transport.",
		}, []string{"transport"}),
		peersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_peers_live",
			Help: "Logged-in peers.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Routed chat messages by kind.",
		}, []string{"kind"}),
		fanoutSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_fanout_size",
			Help:    "Sockets reached per broadcast delivery.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_frame_errors_total",
			Help: "Frames that failed to parse.",
		}),
		queueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_queue_overflows_total",
			Help: "Slow-consumer teardowns.",
		}),
		handshakeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_handshake_events_total",
			Help: "Private-session handshake transitions by event.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.connsOpen,
		m.peersLive,
		m.messagesTotal,
		m.fanoutSize,
		m.frameErrors,
		m.queueOverflows,
		m.handshakeEvents,
	)
	return m
}

// ConnOpened implements observability.Observer.
func (m *Metrics) ConnOpened(transport string) {
	m.connsOpen.WithLabelValues(transport).Inc()
}

// ConnClosed implements observability.Observer.
func (m *Metrics) ConnClosed(transport string) {
	m.connsOpen.WithLabelValues(transport).Dec()
}

// PeerLoggedIn implements observability.Observer.
func (m *Metrics) PeerLoggedIn() {
	m.peersLive.Inc()
}

// PeerLoggedOut implements observability.Observer.
func (m *Metrics) PeerLoggedOut() {
	m.peersLive.Dec()
}

// MessageRouted implements observability.Observer.
func (m *Metrics) MessageRouted(kind string, fanout int) {
	m.messagesTotal.WithLabelValues(kind).Inc()
	m.fanoutSize.Observe(float64(fanout))
}

// FrameError implements observability.Observer.
func (m *Metrics) FrameError() {
	m.frameErrors.Inc()
}

// QueueOverflow implements observability.Observer.
func (m *Metrics) QueueOverflow() {
	m.queueOverflows.Inc()
}

// HandshakeEvent implements observability.Observer.
func (m *Metrics) HandshakeEvent(event string) {
	m.handshakeEvents.WithLabelValues(event).Inc()
}

// Verify Metrics implements observability.Observer.
var _ observability.Observer = (*Metrics)(nil)
