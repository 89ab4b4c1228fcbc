// Package metrics exposes the Prometheus gauges and counters the AMI client
// and its surrounding services (health sampler, NATS bridge) report.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector under a private registry, so a test can
// construct as many independent instances as it likes without tripping
// prometheus's duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter

	PendingActions prometheus.Gauge
	Subscribers    prometheus.Gauge
	DroppedEvents  prometheus.Counter

	HandshakeFailures prometheus.Counter
	StopsTotal        *prometheus.CounterVec // label "cause": "voluntary" | "fault"

	BridgePublished prometheus.Counter
	BridgeDropped   prometheus.Counter

	HostCPUPercent     prometheus.Gauge
	HostMemoryLimit    prometheus.Gauge
	HostMemoryHeadroom prometheus.Gauge
}

// New builds and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_messages_sent_total",
			Help: "Total number of AMI messages written to the stream.",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_messages_received_total",
			Help: "Total number of AMI frames parsed from the stream.",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_bytes_sent_total",
			Help: "Total number of bytes written to the stream.",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_bytes_received_total",
			Help: "Total number of bytes read from the stream.",
		}),
		PendingActions: f.NewGauge(prometheus.GaugeOpts{
			Name: "ami_pending_actions",
			Help: "Current number of in-flight Publish calls awaiting a response.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "ami_subscribers",
			Help: "Current number of registered event subscribers.",
		}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_dropped_events_total",
			Help: "Total number of events dropped because a subscriber's mailbox was full.",
		}),
		HandshakeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_handshake_failures_total",
			Help: "Total number of Start calls that failed the banner handshake.",
		}),
		StopsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ami_stops_total",
			Help: "Total number of client stop transitions, by cause.",
		}, []string{"cause"}),
		BridgePublished: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_bridge_published_total",
			Help: "Total number of events republished onto NATS.",
		}),
		BridgeDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ami_bridge_dropped_total",
			Help: "Total number of events dropped by the NATS bridge's worker pool.",
		}),
		HostCPUPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "ami_host_cpu_percent",
			Help: "Process CPU utilization percent, sampled periodically.",
		}),
		HostMemoryLimit: f.NewGauge(prometheus.GaugeOpts{
			Name: "ami_host_memory_limit_bytes",
			Help: "Detected container memory limit in bytes, 0 if undetected.",
		}),
		HostMemoryHeadroom: f.NewGauge(prometheus.GaugeOpts{
			Name: "ami_host_memory_headroom_bytes",
			Help: "Memory limit minus current process RSS, in bytes.",
		}),
	}
}

// Handler returns the HTTP handler serving this instance's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
