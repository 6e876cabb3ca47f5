package fanout

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/mbfilter/internal/model"
)

// ErrClosed is returned when registering on a Fanout that already sent
// its sentinels.
var ErrClosed = errors.New("fanout closed")

// Queue is the per-consumer event queue.
type Queue = GrowableBuffer[model.MeasuredEvent]

// Config configures a Fanout.
type Config struct {
	QueueCapacity int // Initial capacity of each consumer queue
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{QueueCapacity: 4096}
}

// Stats contains runtime statistics.
type Stats struct {
	Delivered int64 // Events handed to Deliver/DeliverAll
	Closed    bool
	Queues    map[string]BufferStats
}

type consumer struct {
	name  string
	queue *Queue
}

// Fanout copies each event into every registered consumer queue.
type Fanout struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	consumers []consumer
	closed    bool
	delivered int64

	closeOnce sync.Once
}

// New creates a Fanout with no consumers.
func New(cfg Config, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{cfg: cfg, logger: logger}
}

// Register adds a consumer and returns the queue it must read from.
// Consumers only see events delivered after they registered.
func (f *Fanout) Register(name string) (*Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	q := NewGrowableBuffer[model.MeasuredEvent](f.cfg.QueueCapacity)
	f.consumers = append(f.consumers, consumer{name: name, queue: q})

	f.logger.Debug("consumer registered", "consumer", name, "position", len(f.consumers))
	return q, nil
}

// Deliver enqueues ev into every consumer queue, in registration order.
// It returns false if the Fanout is already closed.
func (f *Fanout) Deliver(ev model.MeasuredEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	for _, c := range f.consumers {
		c.queue.Send(ev)
	}
	f.delivered++
	return true
}

// DeliverAll delivers events in order. The whole batch is delivered under
// one lock so a concurrent Register sees either none or all of it.
func (f *Fanout) DeliverAll(events []model.MeasuredEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	for _, ev := range events {
		for _, c := range f.consumers {
			c.queue.Send(ev)
		}
	}
	f.delivered += int64(len(events))
	return true
}

// Close sends the end-of-stream sentinel to every queue. Only the first
// call has an effect.
func (f *Fanout) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		consumers := f.consumers
		delivered := f.delivered
		f.mu.Unlock()

		for _, c := range consumers {
			c.queue.Close()
		}

		f.logger.Info("fanout closed",
			"consumers", len(consumers),
			"delivered", delivered,
		)
	})
}

// Consumers returns the registered consumer names in registration order.
func (f *Fanout) Consumers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, len(f.consumers))
	for i, c := range f.consumers {
		names[i] = c.name
	}
	return names
}

// Stats returns current statistics.
func (f *Fanout) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := Stats{
		Delivered: f.delivered,
		Closed:    f.closed,
		Queues:    make(map[string]BufferStats, len(f.consumers)),
	}
	for _, c := range f.consumers {
		s.Queues[c.name] = c.queue.Stats()
	}
	return s
}
