package visual

import (
	"log/slog"
	"sync"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/histogram"
	"github.com/rickgao/mbfilter/internal/model"
)

// HistogramRenderer accumulates peak heights into a histogram on its own
// goroutine. Batches wait on an unbounded buffer so Publish never blocks.
type HistogramRenderer struct {
	hist   *histogram.Histogram
	logger *slog.Logger

	input *fanout.GrowableBuffer[[]uint64]

	batches  int64
	mu       sync.Mutex
	finished bool
	done     chan struct{}
}

// NewHistogramRenderer starts the renderer goroutine.
func NewHistogramRenderer(hist *histogram.Histogram, logger *slog.Logger) *HistogramRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &HistogramRenderer{
		hist:   hist,
		logger: logger,
		input:  fanout.NewGrowableBuffer[[]uint64](16),
		done:   make(chan struct{}),
	}
	go r.renderLoop()
	return r
}

// Publish queues the batch's peak heights.
func (r *HistogramRenderer) Publish(events []model.MeasuredEvent) {
	if len(events) == 0 {
		return
	}
	if !r.input.Send(model.PeakHeights(events)) {
		r.logger.Warn("batch published after finish", "events", len(events))
	}
}

// Finish stops the renderer once every queued batch is counted.
func (r *HistogramRenderer) Finish() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.finished = true
	r.mu.Unlock()

	r.input.Close()
	<-r.done
}

// Histogram returns the underlying histogram.
func (r *HistogramRenderer) Histogram() *histogram.Histogram {
	return r.hist
}

// Snapshot returns the current histogram.
func (r *HistogramRenderer) Snapshot() histogram.Snapshot {
	return r.hist.Snapshot()
}

// Pending returns the number of batches not yet counted.
func (r *HistogramRenderer) Pending() int {
	return r.input.Len()
}

func (r *HistogramRenderer) renderLoop() {
	defer close(r.done)

	for {
		peaks, ok := r.input.Receive()
		if !ok {
			r.logger.Debug("histogram renderer stopped",
				"batches", r.batches,
				"total", r.hist.Total(),
			)
			return
		}
		r.hist.Add(peaks...)
		r.batches++
	}
}
