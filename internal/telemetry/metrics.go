package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

const namespace = "easycom"

// StatsSource provides service counters. It is satisfied by
// *service.Service.
type StatsSource interface {
	Stats() service.Stats
}

// Metrics exposes connection activity in Prometheus format.
//
// Counters are driven by bus events; gauges read the registry and the
// service when scraped. Everything is registered on a private
// prometheus.Registry.
type Metrics struct {
	registry *prometheus.Registry
	conns    *connection.Registry

	transitions   *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
//
// Parameters:
//   - conns: registry used to label events by kind and count links
//   - stats: service counters exported at scrape time (may be nil)
func NewMetrics(conns *connection.Registry, stats StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conns:    conns,
	}

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "transitions_total",
		Help:      "Lifecycle transitions published on the status bus",
	}, []string{"kind", "transition"})

	m.bytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "received_bytes_total",
		Help:      "Bytes delivered by connection readers",
	}, []string{"kind"})

	connected := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "connected",
		Help:      "Connections currently in the connected state",
	}, func() float64 {
		return float64(m.countStatus(connection.StatusConnected))
	})

	registered := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "registered",
		Help:      "Connections known to the registry",
	}, func() float64 {
		if m.conns == nil {
			return 0
		}
		return float64(m.conns.Len())
	})

	m.registry.MustRegister(
		m.transitions,
		m.bytesReceived,
		connected,
		registered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		m.registerServiceStats(stats)
	}
	return m
}

func (m *Metrics) registerServiceStats(src StatsSource) {
	counter := func(name, help string, value func(service.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(src.Stats())) })
	}

	m.registry.MustRegister(
		counter("connect_attempts_total", "Transport open attempts",
			func(s service.Stats) uint64 { return s.ConnectAttempts }),
		counter("connect_failures_total", "Connect cycles that ended in connect_failed",
			func(s service.Stats) uint64 { return s.ConnectFailures }),
		counter("send_failures_total", "Writes that failed",
			func(s service.Stats) uint64 { return s.SendFailures }),
		counter("sent_bytes_total", "Bytes written to connections",
			func(s service.Stats) uint64 { return s.BytesSent }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "active_readers",
			Help:      "Reader loops currently running",
		}, func() float64 { return float64(src.Stats().ActiveReaders) }),
	)
}

// HandleEvent implements statusbus.Observer.
func (m *Metrics) HandleEvent(e statusbus.Event) {
	kind := kindOf(m.conns, e.ConnectionID)
	if e.Transition == statusbus.DataReceived {
		m.bytesReceived.WithLabelValues(kind).Add(float64(len(e.Data)))
		return
	}
	m.transitions.WithLabelValues(kind, string(e.Transition)).Inc()
}

// Registry returns the Prometheus registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) countStatus(status connection.Status) int {
	if m.conns == nil {
		return 0
	}
	n := 0
	for _, c := range m.conns.Snapshot() {
		if c.Status() == status {
			n++
		}
	}
	return n
}
