package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors for the presence server.
type Metrics struct {
	registry *prometheus.Registry

	DetectionsIngested *prometheus.CounterVec
	DetectionsRejected *prometheus.CounterVec
	StoreErrors        prometheus.Counter
	MQTTConnected      prometheus.Gauge
	StorageConnected   prometheus.Gauge
}

// New creates and registers the server metrics under the given namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DetectionsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "detections_total",
				Help:      "Total number of detections accepted into the location store",
			},
			[]string{"scanner"},
		),
		DetectionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rejections_total",
				Help:      "Total number of payloads rejected by the validator",
			},
			[]string{"reason"},
		),
		StoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of failed location store writes",
			},
		),
		MQTTConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Whether the MQTT transport is currently connected (1) or not (0)",
			},
		),
		StorageConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "connected",
				Help:      "Whether the storage backend is currently reachable (1) or not (0)",
			},
		),
	}

	m.registry.MustRegister(
		m.DetectionsIngested,
		m.DetectionsRejected,
		m.StoreErrors,
		m.MQTTConnected,
		m.StorageConnected,
	)

	return m
}

// Handler serves the metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
