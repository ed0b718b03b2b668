// Package metrics exports dispatcher activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "udpbridge"

// Metrics implements dispatch.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	processed    *prometheus.CounterVec
	sent         *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	errors       *prometheus.CounterVec
	bytes        prometheus.Counter
	active       prometheus.Gauge
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Packets produced by each channel.",
		}, []string{"channel"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets handed to the broadcast socket.",
		}, []string{"channel"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Packets the broadcast socket did not accept.",
		}, []string{"channel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Channel processing errors by kind.",
		}, []string{"channel", "kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_bytes_total",
			Help:      "Bytes of packet payload produced.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Channels currently registered with the dispatcher.",
		}),
	}

	m.registry.MustRegister(
		m.processed, m.sent, m.sendFailures, m.errors, m.bytes, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) PacketProcessed(channel string, size int) {
	m.processed.WithLabelValues(channel).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) PacketSent(channel string) {
	m.sent.WithLabelValues(channel).Inc()
}

func (m *Metrics) SendFailed(channel string) {
	m.sendFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) ChannelError(channel, kind string) {
	m.errors.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) ChannelsActive(n int) {
	m.active.Set(float64(n))
}
