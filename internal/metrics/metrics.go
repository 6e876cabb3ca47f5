package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mbfilter"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	FramesReceived  *prometheus.CounterVec // by frame kind
	EventsDecoded   prometheus.Counter
	EventsDelivered prometheus.Counter
	FramingErrors   *prometheus.CounterVec // by framing kind
	QueueDepth      *prometheus.GaugeVec   // by consumer
	SinkEvents      *prometheus.CounterVec // by sink
	SinkErrors      *prometheus.CounterVec // by sink
	VisualBatches   *prometheus.CounterVec // by publisher
	DBFlushDuration prometheus.Histogram
	State           prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the instrument.",
		}, []string{"kind"}),
		EventsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_decoded_total",
			Help:      "Events decoded from valid frames.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to the fanout.",
		}),
		FramingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framing_errors_total",
			Help:      "Frames rejected by the decoder.",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events waiting in a consumer queue.",
		}, []string{"consumer"}),
		SinkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_events_total",
			Help:      "Events processed by a sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Sink write failures.",
		}, []string{"sink"}),
		VisualBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visual_batches_total",
			Help:      "Batches pushed to a visualization publisher.",
		}, []string{"publisher"}),
		DBFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_flush_duration_seconds",
			Help:      "Duration of database batch flushes.",
			Buckets:   prometheus.DefBuckets,
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "Pipeline state: 0 idle, 1 running, 2 stopping, 3 stopped.",
		}),
	}

	reg.MustRegister(
		m.FramesReceived,
		m.EventsDecoded,
		m.EventsDelivered,
		m.FramingErrors,
		m.QueueDepth,
		m.SinkEvents,
		m.SinkErrors,
		m.VisualBatches,
		m.DBFlushDuration,
		m.State,
	)

	return m
}

// NewUnregistered returns collectors attached to a throwaway registry, for
// callers that do not export metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
