package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report broker activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections   *prometheus.CounterVec
	registrations *prometheus.CounterVec
	forwarded     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	sessions      prometheus.Gauge
	hosts         prometheus.Gauge
	viewers       prometheus.Gauge
}

// NewMetrics registers the broker collectors with reg. Registration errors are
// returned so that callers sharing a registry notice duplicates early.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "connection_events_total",
			Help:      "Transport connect and disconnect notifications seen by the broker.",
		}, []string{"event"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "registrations_total",
			Help:      "Host and viewer registrations by outcome.",
		}, []string{"role", "result"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "forwarded_total",
			Help:      "Payloads handed to the transport for the peer connection.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "dropped_total",
			Help:      "Payloads silently dropped, by reason.",
		}, []string{"kind", "reason"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "sessions",
			Help:      "Live sessions.",
		}),
		hosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "hosts",
			Help:      "Connections registered as host.",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskrelay",
			Subsystem: "broker",
			Name:      "viewers",
			Help:      "Connections registered as viewer.",
		}),
	}
	collectors := []prometheus.Collector{
		m.connections, m.registrations, m.forwarded, m.dropped,
		m.sessions, m.hosts, m.viewers,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ConnectionEvent(event string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(event).Inc()
}

func (m *Metrics) Registration(role, result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(role, result).Inc()
}

func (m *Metrics) Forwarded(kind string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(kind, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ObserveStats(s Stats) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(s.Sessions))
	m.hosts.Set(float64(s.Hosts))
	m.viewers.Set(float64(s.Viewers))
}
