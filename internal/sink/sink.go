package sink

import (
	"context"

	"github.com/rickgao/mbfilter/internal/fanout"
)

// Sink consumes events from one fanout queue.
type Sink interface {
	// Name identifies the sink in logs, metrics and fanout registration.
	Name() string

	// Run processes events until the queue's sentinel or ctx is done.
	// It always releases the sink's resources before returning.
	Run(ctx context.Context, q *fanout.Queue) error
}

// Stats holds per-sink counters.
type Stats struct {
	Events int64
	Errors int64
}
