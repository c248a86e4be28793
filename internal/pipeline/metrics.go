package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	processed     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	duplicates    prometheus.Counter
	queueDepth    prometheus.Gauge
	storageWrites prometheus.Counter
	storageErrors prometheus.Counter
	published     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. A nil reg gets an isolated
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer
	if reg == nil {
		registry := prometheus.NewRegistry()
		reg = registry
		gatherer = registry
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	factory := promauto.With(reg)
	return &Metrics{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "Events processed by kind and outcome.",
		}, []string{"kind", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "event_duration_seconds",
			Help:      "Time spent inside the processor per event.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"kind"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "duplicate_events_total",
			Help:      "Replayed events answered from the idempotency cache.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Events waiting in the inbound queue.",
		}),
		storageWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "storage",
			Name:      "values_written_total",
			Help:      "Values written to the durable store.",
		}),
		storageErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "storage",
			Name:      "write_errors_total",
			Help:      "Failed durable store writes.",
		}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "bus",
			Name:      "messages_published_total",
			Help:      "Messages published by topic.",
		}, []string{"topic"}),
		publishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Messages dropped after retries by topic.",
		}, []string{"topic"}),
		gatherer: gatherer,
	}
}

// Gatherer exposes the registry the collectors live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
