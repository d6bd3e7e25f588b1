// ABOUTME: Prometheus instrumentation for the gateway session
// ABOUTME: Heartbeats, acks, reconnects, invalid sessions, frames and current state

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/fluxer-go/internal/protocol"
)

// Metrics holds session instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	heartbeats      prometheus.Counter
	acks            prometheus.Counter
	ackLatency      prometheus.Histogram
	reconnects      prometheus.Counter
	invalidSessions prometheus.Counter
	frames          *prometheus.CounterVec
	state           prometheus.Gauge
}

// NewMetrics registers gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats written to the transport",
		}),
		acks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "heartbeat_acks_total",
			Help:      "Heartbeat acknowledgements received",
		}),
		ackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "heartbeat_ack_latency_seconds",
			Help:      "Time between a heartbeat and its acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Server requested reconnects performed",
		}),
		invalidSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "invalid_sessions_total",
			Help:      "Invalid session payloads answered with a fresh identify",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Decoded payloads by opcode",
		}, []string{"op"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluxer",
			Subsystem: "gateway",
			Name:      "state",
			Help:      "Current session state (0 idle .. 6 closed)",
		}),
	}
}

func (m *Metrics) heartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) heartbeatAcked(latencySeconds float64) {
	if m == nil {
		return
	}
	m.acks.Inc()
	if latencySeconds >= 0 {
		m.ackLatency.Observe(latencySeconds)
	}
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) invalidSession() {
	if m == nil {
		return
	}
	m.invalidSessions.Inc()
}

func (m *Metrics) frameReceived(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) stateChanged(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
