// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for channels, pipelines and event loops, backed by a
// dedicated Prometheus registry.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hioload"

// Metrics groups the engine counters. All fields are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	ChannelsRegistered  prometheus.Counter
	ChannelsClosed      prometheus.Counter
	ChannelsActive      prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	BytesRead           prometheus.Counter
	BytesWritten        prometheus.Counter
	IOErrors            *prometheus.CounterVec // label: op
	UnhandledEvents     *prometheus.CounterVec // label: event
	LoopTasks           *prometheus.CounterVec // label: loop
	LoopPanics          prometheus.Counter
	HandlerEvents       *prometheus.CounterVec // labels: handler, event
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		ChannelsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "registered_total",
			Help: "Channels bound to an event loop.",
		}),
		ChannelsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "closed_total",
			Help: "Channels closed.",
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "channel", Name: "active",
			Help: "Channels currently listening or connected.",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bootstrap", Name: "connections_accepted_total",
			Help: "Connections handed to the acceptor.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "read_bytes_total",
			Help: "Bytes read from sockets.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "written_bytes_total",
			Help: "Bytes written to sockets.",
		}),
		IOErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "io_errors_total",
			Help: "Socket errors by operation.",
		}, []string{"op"}),
		UnhandledEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "unhandled_total",
			Help: "Events that reached a pipeline sentinel unconsumed.",
		}, []string{"event"}),
		LoopTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventloop", Name: "tasks_total",
			Help: "Tasks executed per event loop.",
		}, []string{"loop"}),
		LoopPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventloop", Name: "panics_total",
			Help: "Recovered panics in loop tasks and callbacks.",
		}),
		HandlerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "handler_events_total",
			Help: "Events observed by metrics handlers.",
		}, []string{"handler", "event"}),
	}
	reg.MustRegister(
		m.ChannelsRegistered, m.ChannelsClosed, m.ChannelsActive,
		m.ConnectionsAccepted, m.BytesRead, m.BytesWritten,
		m.IOErrors, m.UnhandledEvents, m.LoopTasks, m.LoopPanics,
		m.HandlerEvents,
	)
	return m
}

var defaultMetrics = NewMetrics(prometheus.NewRegistry())

// Default returns the process-wide metrics used by the engine.
func Default() *Metrics {
	return defaultMetrics
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GetSnapshot returns the current value of every counter and gauge keyed by
// fully qualified name; labelled series are summed.
func (m *Metrics) GetSnapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// Handler exposes the default metrics.
func Handler() http.Handler {
	return defaultMetrics.Handler()
}
