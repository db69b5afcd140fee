package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "neosu"

// Metrics holds the Prometheus collectors shared by the network pump, the
// packet dispatcher and the local API. Each instance owns its registry so
// tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	UnknownPackets  prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	BytesSent    prometheus.Counter
	BytesRecv    prometheus.Counter

	QueueDepth   *prometheus.GaugeVec
	PingInterval prometheus.Gauge
	Online       prometheus.Gauge

	AvatarCache *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bancho",
			Name:      "packets_received_total",
			Help:      "Incoming Bancho packets by packet name.",
		}, []string{"packet"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bancho",
			Name:      "packets_sent_total",
			Help:      "Outgoing Bancho packets by packet id.",
		}, []string{"id"}),
		UnknownPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bancho",
			Name:      "unknown_packets_total",
			Help:      "Incoming packets with no handler.",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "requests_total",
			Help:      "HTTP requests by kind (bancho, login, logout, api) and result.",
		}, []string{"kind", "result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "request_duration_seconds",
			Help:      "HTTP round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "bytes_sent_total",
			Help:      "Bytes POSTed to Bancho.",
		}),
		BytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "bytes_received_total",
			Help:      "Bytes received from Bancho.",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "queue_depth",
			Help:      "Items waiting in the pump queues.",
		}, []string{"queue"}),
		PingInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "ping_interval_seconds",
			Help:      "Current keepalive polling interval.",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bancho",
			Name:      "online",
			Help:      "1 while logged in.",
		}),

		AvatarCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "avatars",
			Name:      "lookups_total",
			Help:      "Avatar lookups by source (memory, disk, network).",
		}, []string{"source"}),
	}

	m.Registry.MustRegister(
		m.PacketsReceived,
		m.PacketsSent,
		m.UnknownPackets,
		m.HTTPRequests,
		m.HTTPDuration,
		m.BytesSent,
		m.BytesRecv,
		m.QueueDepth,
		m.PingInterval,
		m.Online,
		m.AvatarCache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
