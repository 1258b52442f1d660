// ABOUTME: Prometheus collector for the agent runtime and relay
// ABOUTME: Owns a private registry; every method is safe on a nil *Collector

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/protocol"
)

// Collector gathers runtime metrics.
type Collector struct {
	registry *prometheus.Registry

	// Multiplexer
	envelopesReceived *prometheus.CounterVec
	envelopesSent     *prometheus.CounterVec
	envelopesDropped  *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec

	// Dialogues and skills
	dialoguesEnded    *prometheus.CounterVec
	handlerInvocation *prometheus.CounterVec
	behaviourActs     *prometheus.CounterVec
	behaviourDuration *prometheus.HistogramVec

	// Worker pool
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	tasksInFlight prometheus.Gauge

	// Relay
	relaySessions prometheus.Gauge
	relayFrames   *prometheus.CounterVec
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.envelopesReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes received from connections",
		},
		[]string{"connection"},
	)
	c.envelopesSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes handed to connections",
		},
		[]string{"connection"},
	)
	c.envelopesDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped before delivery",
		},
		[]string{"reason"},
	)
	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of envelopes waiting in a queue",
		},
		[]string{"queue"},
	)

	c.dialoguesEnded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogues_ended_total",
			Help:      "Dialogues that reached a terminal performative",
		},
		[]string{"protocol", "role", "performative"},
	)
	c.handlerInvocation = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Messages dispatched to protocol handlers",
		},
		[]string{"protocol", "performative"},
	)
	c.behaviourActs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "behaviour_acts_total",
			Help:      "Behaviour act invocations",
		},
		[]string{"behaviour", "status"},
	)
	c.behaviourDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "behaviour_act_duration_seconds",
			Help:      "Behaviour act duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"behaviour"},
	)

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_total",
			Help:      "Tasks executed by the worker pool",
		},
		[]string{"status"},
	)
	c.taskDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_task_duration_seconds",
			Help:      "Worker pool task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.tasksInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_tasks_in_flight",
			Help:      "Tasks currently running in the worker pool",
		},
	)

	c.relaySessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions",
			Help:      "Agents currently registered with the relay",
		},
	)
	c.relayFrames = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Frames processed by the relay",
		},
		[]string{"kind", "outcome"},
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// EnvelopeReceived counts an envelope read from a connection.
func (c *Collector) EnvelopeReceived(connectionID string) {
	if c == nil {
		return
	}
	c.envelopesReceived.WithLabelValues(connectionID).Inc()
}

// EnvelopeSent counts an envelope accepted by a connection.
func (c *Collector) EnvelopeSent(connectionID string) {
	if c == nil {
		return
	}
	c.envelopesSent.WithLabelValues(connectionID).Inc()
}

// EnvelopeDropped counts an envelope that could not be delivered.
func (c *Collector) EnvelopeDropped(reason string) {
	if c == nil {
		return
	}
	c.envelopesDropped.WithLabelValues(reason).Inc()
}

// QueueDepth records the current length of a named queue.
func (c *Collector) QueueDepth(queue string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// DialogueEnded implements dialogue.Observer.
func (c *Collector) DialogueEnded(protocolID string, role dialogue.Role, performative protocol.Performative) {
	if c == nil {
		return
	}
	c.dialoguesEnded.WithLabelValues(protocolID, role.String(), string(performative)).Inc()
}

// HandlerInvoked counts a message dispatched to a handler.
func (c *Collector) HandlerInvoked(protocolID string, performative protocol.Performative) {
	if c == nil {
		return
	}
	c.handlerInvocation.WithLabelValues(protocolID, string(performative)).Inc()
}

// BehaviourActed records one act call.
func (c *Collector) BehaviourActed(name string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.behaviourActs.WithLabelValues(name, status).Inc()
	c.behaviourDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// TaskStarted marks a pool task as running.
func (c *Collector) TaskStarted() {
	if c == nil {
		return
	}
	c.tasksInFlight.Inc()
}

// TaskFinished records a completed pool task.
func (c *Collector) TaskFinished(duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.tasksInFlight.Dec()
	c.tasksTotal.WithLabelValues(status).Inc()
	c.taskDuration.Observe(duration.Seconds())
}

// RelaySessions sets the number of registered relay sessions.
func (c *Collector) RelaySessions(n int) {
	if c == nil {
		return
	}
	c.relaySessions.Set(float64(n))
}

// RelayFrame counts a frame handled by the relay.
func (c *Collector) RelayFrame(kind, outcome string) {
	if c == nil {
		return
	}
	c.relayFrames.WithLabelValues(kind, outcome).Inc()
}

var _ dialogue.Observer = (*Collector)(nil)
