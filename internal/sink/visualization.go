package sink

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/model"
	"github.com/rickgao/mbfilter/internal/visual"
)

// DefaultBatchSize is the number of events per visualization batch.
const DefaultBatchSize = 1000

// VisualizationSink groups events into batches for a Publisher.
type VisualizationSink struct {
	pub       visual.Publisher
	batchSize int
	label     string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	events  atomic.Int64
	batches atomic.Int64
}

// NewVisualizationSink creates a sink feeding pub. label names the
// publisher in metrics.
func NewVisualizationSink(pub visual.Publisher, label string, batchSize int, logger *slog.Logger, m *metrics.Metrics) *VisualizationSink {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &VisualizationSink{
		pub:       pub,
		batchSize: batchSize,
		label:     label,
		logger:    logger,
		metrics:   m,
	}
}

// Name returns "visualization".
func (s *VisualizationSink) Name() string { return "visualization" }

// Stats returns the sink counters.
func (s *VisualizationSink) Stats() Stats {
	return Stats{Events: s.events.Load()}
}

// Batches returns the number of batches published.
func (s *VisualizationSink) Batches() int64 {
	return s.batches.Load()
}

// Run publishes a batch every batchSize events. On the sentinel or on
// cancellation the partial batch is published and the publisher is
// finished.
func (s *VisualizationSink) Run(ctx context.Context, q *fanout.Queue) error {
	batch := make([]model.MeasuredEvent, 0, s.batchSize)

	finish := func() {
		if len(batch) > 0 {
			s.publish(batch)
		}
		s.pub.Finish()
		s.logger.Info("visualization sink finished",
			"events", s.events.Load(),
			"batches", s.batches.Load(),
		)
	}

	for {
		ev, ok, err := q.ReceiveContext(ctx)
		if err != nil {
			finish()
			return err
		}
		if !ok {
			finish()
			return nil
		}

		batch = append(batch, ev)
		s.events.Add(1)
		if s.metrics != nil {
			s.metrics.SinkEvents.WithLabelValues(s.Name()).Inc()
		}
		if len(batch) >= s.batchSize {
			s.publish(batch)
			batch = batch[:0]
		}
	}
}

func (s *VisualizationSink) publish(batch []model.MeasuredEvent) {
	s.pub.Publish(batch)
	s.batches.Add(1)
	if s.metrics != nil {
		s.metrics.VisualBatches.WithLabelValues(s.label).Inc()
	}
}
