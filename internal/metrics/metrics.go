// Package metrics provides Prometheus metrics for the observation gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obsgate"

// Metrics holds the gateway collectors. All methods are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Connections          prometheus.Gauge
	RejectedConnections  *prometheus.CounterVec
	Subscriptions        *prometheus.CounterVec
	ActiveListeners      prometheus.Gauge
	EventsForwarded      prometheus.Counter
	SerializationFailure *prometheus.CounterVec
	SendFailures         prometheus.Counter
	InboundMessages      *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
		RejectedConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "WebSocket connections closed on open",
		}, []string{"reason"}),
		Subscriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Subscription attempts by result",
		}, []string{"result"}),
		ActiveListeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listeners",
			Help:      "Bus listeners owned by WebSocket sessions",
		}),
		EventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Event messages handed to a connection",
		}),
		SerializationFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serialization_failures_total",
			Help:      "Outbound message fields that failed to serialize",
		}, []string{"field"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Event messages a connection refused",
		}),
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Client messages by type",
		}, []string{"type"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published by type",
		}, []string{"type"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m != nil {
		m.RejectedConnections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SubscriptionResult(result string) {
	if m != nil {
		m.Subscriptions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ListenersAdded(n int) {
	if m != nil {
		m.ActiveListeners.Add(float64(n))
	}
}

func (m *Metrics) ListenersRemoved(n int) {
	if m != nil {
		m.ActiveListeners.Sub(float64(n))
	}
}

func (m *Metrics) EventForwarded() {
	if m != nil {
		m.EventsForwarded.Inc()
	}
}

func (m *Metrics) SerializationFailed(field string) {
	if m != nil {
		m.SerializationFailure.WithLabelValues(field).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) InboundMessage(msgType string) {
	if m != nil {
		m.InboundMessages.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}
