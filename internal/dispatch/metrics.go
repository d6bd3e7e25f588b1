// ABOUTME: Prometheus instrumentation for event dispatch and waiters
// ABOUTME: Counts dispatched events, handler failures and waiter outcomes

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds dispatch counters. A nil *Metrics records nothing.
type Metrics struct {
	dispatched     *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	waiterOutcomes *prometheus.CounterVec
	pendingWaiters prometheus.Gauge
}

// NewMetrics registers dispatch metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Events dispatched to handlers and waiters, by normalised name",
		}, []string{"event"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "dispatch",
			Name:      "handler_errors_total",
			Help:      "Handler invocations that returned an error or panicked",
		}, []string{"event"}),

		waiterOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxer",
			Subsystem: "dispatch",
			Name:      "waiter_outcomes_total",
			Help:      "Resolved waiters by outcome",
		}, []string{"outcome"}),

		pendingWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluxer",
			Subsystem: "dispatch",
			Name:      "pending_waiters",
			Help:      "Waiters currently registered",
		}),
	}
}

func (m *Metrics) eventDispatched(name string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(name).Inc()
}

func (m *Metrics) handlerFailed(name string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(name).Inc()
}

func (m *Metrics) waiterAdded() {
	if m == nil {
		return
	}
	m.pendingWaiters.Inc()
}

func (m *Metrics) waiterResolved(outcome string) {
	if m == nil {
		return
	}
	m.pendingWaiters.Dec()
	m.waiterOutcomes.WithLabelValues(outcome).Inc()
}
