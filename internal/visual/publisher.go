package visual

import (
	"github.com/rickgao/mbfilter/internal/model"
)

// Publisher receives event batches for display.
type Publisher interface {
	// Publish hands over a batch. It must not block on the renderer and
	// must not retain events after returning.
	Publish(events []model.MeasuredEvent)

	// Finish signals end-of-stream and waits for the renderer to stop.
	// Publish must not be called afterwards.
	Finish()
}
