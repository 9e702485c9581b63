package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures transport metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "lumen").
	Namespace string

	// Subsystem is the metrics subsystem (default: "transport").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures transport metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Drop reasons used as the "reason" label of DroppedTotal.
const (
	DropMalformed      = "malformed"
	DropUnknownSession = "unknown_session"
	DropFragment       = "fragment"
	DropDecompress     = "decompress"
	DropQueueFull      = "queue_full"
	DropBackpressure   = "backpressure"
	DropTableFull      = "table_full"
)

// Metrics holds the Prometheus metrics of a Server.
type Metrics struct {
	PacketsSent        *prometheus.CounterVec
	PacketsReceived    *prometheus.CounterVec
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter
	DroppedTotal       *prometheus.CounterVec
	Sessions           prometheus.Gauge
	Updates            *prometheus.CounterVec
	Commands           *prometheus.CounterVec
	ReassemblyTimeouts prometheus.Counter
	FragmentsPerUpdate prometheus.Histogram
	CompressionRatio   prometheus.Histogram
	CycleDuration      prometheus.Histogram
	RTT                prometheus.Histogram
}

// NewMetrics registers transport metrics.
//
// Metrics collected:
//   - lumen_transport_packets_sent_total: datagrams sent by packet type
//   - lumen_transport_packets_received_total: datagrams received by packet type
//   - lumen_transport_bytes_sent_total / bytes_received_total
//   - lumen_transport_dropped_total: packets or updates dropped by reason
//   - lumen_transport_sessions: registered sessions
//   - lumen_transport_updates_total: state updates by kind (full, diff, empty)
//   - lumen_transport_commands_total: commands received by command
//   - lumen_transport_reassembly_timeouts_total
//   - lumen_transport_fragments_per_update, compression_ratio,
//     cycle_duration_seconds, rtt_seconds
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "lumen",
		Subsystem: "transport",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     buckets,
		})
	}

	return &Metrics{
		PacketsSent:     counterVec("packets_sent_total", "Datagrams sent by packet type", "type"),
		PacketsReceived: counterVec("packets_received_total", "Datagrams received by packet type", "type"),
		BytesSent:       counter("bytes_sent_total", "Bytes written to the socket"),
		BytesReceived:   counter("bytes_received_total", "Bytes read from the socket"),
		DroppedTotal:    counterVec("dropped_total", "Packets or updates dropped by reason", "reason"),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions",
			Help:        "Number of registered sessions",
			ConstLabels: config.ConstLabels,
		}),
		Updates:            counterVec("updates_total", "State updates by kind", "kind"),
		Commands:           counterVec("commands_total", "Commands received by command", "command"),
		ReassemblyTimeouts: counter("reassembly_timeouts_total", "Partial messages purged before completion"),
		FragmentsPerUpdate: histogram("fragments_per_update", "Datagrams needed per state message",
			[]float64{1, 2, 4, 8, 16, 32, 64}),
		CompressionRatio: histogram("compression_ratio", "Compressed/original size of each attempt",
			[]float64{0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.25}),
		CycleDuration: histogram("cycle_duration_seconds", "Update cycle duration in seconds",
			[]float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025}),
		RTT: histogram("rtt_seconds", "Ping round trip time in seconds",
			[]float64{.0005, .001, .005, .01, .05, .1, .5, 1}),
	}
}
