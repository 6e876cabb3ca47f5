package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/decode"
	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/sink"
)

// Deps are the collaborators of a Coordinator. Client, Decoder and at
// least one Sink are required.
type Deps struct {
	Client  connection.Client
	Decoder *decode.Decoder
	Sinks   []sink.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Coordinator runs a single acquisition.
type Coordinator struct {
	cfg     Config
	client  connection.Client
	decoder *decode.Decoder
	sinks   []sink.Sink
	fanout  *fanout.Fanout
	metrics *metrics.Metrics
	logger  *slog.Logger

	state atomic.Int32

	// Stop trigger: first caller wins.
	stopOnce   sync.Once
	stopCh     chan struct{}
	reasonMu   sync.Mutex
	reason     StopReason
	triggerErr error

	// Counters
	events        atomic.Int64
	frames        atomic.Int64
	framingErrors atomic.Int64

	// Set once the event limit or a framing abort is hit; later frames
	// are read but not delivered.
	discard bool
}

// New creates a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Client == nil {
		return nil, errors.New("pipeline: client is required")
	}
	if deps.Decoder == nil {
		return nil, errors.New("pipeline: decoder is required")
	}
	if len(deps.Sinks) == 0 {
		return nil, errors.New("pipeline: at least one sink is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	def := DefaultConfig()
	if cfg.FramingPolicy == "" {
		cfg.FramingPolicy = def.FramingPolicy
	}
	if cfg.FramingPolicy != FramingSkip && cfg.FramingPolicy != FramingAbort {
		return nil, fmt.Errorf("pipeline: unknown framing policy %q", cfg.FramingPolicy)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}

	logger = logger.With("run_id", cfg.RunID)

	return &Coordinator{
		cfg:     cfg,
		client:  deps.Client,
		decoder: deps.Decoder,
		sinks:   deps.Sinks,
		fanout:  fanout.New(fanout.Config{QueueCapacity: cfg.QueueCapacity}, logger),
		metrics: m,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// RunID returns the run identifier.
func (c *Coordinator) RunID() uuid.UUID {
	return c.cfg.RunID
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Events returns the number of events delivered so far.
func (c *Coordinator) Events() int64 {
	return c.events.Load()
}

// Stop requests an orderly shutdown. Only the first trigger is recorded;
// Stop is safe to call at any time and from any goroutine.
func (c *Coordinator) Stop(reason StopReason) {
	c.trigger(reason, nil)
}

// Stats returns a live view of the run.
func (c *Coordinator) Stats() Stats {
	c.reasonMu.Lock()
	reason := c.reason
	c.reasonMu.Unlock()

	return Stats{
		RunID:         c.cfg.RunID,
		State:         c.State(),
		Reason:        reason,
		Events:        c.events.Load(),
		Frames:        c.frames.Load(),
		FramingErrors: c.framingErrors.Load(),
		Fanout:        c.fanout.Stats(),
	}
}

// Run performs the acquisition and blocks until every sink has returned.
// Cancelling ctx stops ingestion the same way Stop does. The returned
// error joins the ingestion error (connection failure, framing abort,
// connect failure) with any sink errors.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Summary{}, ErrAlreadyStarted
	}
	c.setState(StateRunning)
	start := time.Now()

	c.logger.Info("acquisition starting",
		"filter", c.cfg.Filter.String(),
		"max_count", c.cfg.MaxCount,
		"framing_policy", c.cfg.FramingPolicy,
		"sinks", len(c.sinks),
	)

	// Sinks get their own context: stopping ingestion must not abort
	// them. It is cancelled only when the drain timeout expires.
	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()

	g, err := c.startSinks(sinkCtx)
	if err != nil {
		c.fanout.Close()
		c.setState(StateStopped)
		return Summary{}, err
	}

	if err := c.client.Connect(ctx); err != nil {
		c.trigger(StopConnectFailed, err)
	} else {
		c.logger.Info("connected to instrument")
		c.ingest(ctx)
	}

	// Stopping
	c.setState(StateStopping)
	c.drain()
	c.fanout.Close()
	sinkErr := c.joinSinks(g, cancelSinks)
	c.updateQueueMetrics()
	c.setState(StateStopped)

	c.reasonMu.Lock()
	reason, ingestErr := c.reason, c.triggerErr
	c.reasonMu.Unlock()

	summary := Summary{
		RunID:         c.cfg.RunID,
		Events:        c.events.Load(),
		Frames:        c.frames.Load(),
		FramingErrors: c.framingErrors.Load(),
		Reason:        reason,
		Duration:      time.Since(start),
		Filter:        c.cfg.Filter,
	}

	c.logger.Info("acquisition stopped",
		"reason", string(reason),
		"events", summary.Events,
		"frames", summary.Frames,
		"framing_errors", summary.FramingErrors,
		"duration", summary.Duration,
	)

	return summary, errors.Join(ingestErr, sinkErr)
}

// startSinks registers one queue per sink, in sink order, and starts one
// goroutine per sink.
func (c *Coordinator) startSinks(ctx context.Context) (*errgroup.Group, error) {
	queues := make([]*fanout.Queue, len(c.sinks))
	for i, s := range c.sinks {
		q, err := c.fanout.Register(s.Name())
		if err != nil {
			return nil, fmt.Errorf("register sink %s: %w", s.Name(), err)
		}
		queues[i] = q
	}

	g := &errgroup.Group{}
	for i, s := range c.sinks {
		q := queues[i]
		g.Go(func() error {
			err := s.Run(ctx, q)
			if err == nil {
				return nil
			}
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("sink failed", "sink", s.Name(), "error", err)
				c.trigger(StopSinkFailed, nil)
			}
			return fmt.Errorf("sink %s: %w", s.Name(), err)
		})
	}
	return g, nil
}

// ingest is the Running loop: one frame at a time, decoded inline.
func (c *Coordinator) ingest(ctx context.Context) {
	var tick <-chan time.Time
	if c.cfg.ProgressInterval > 0 {
		ticker := time.NewTicker(c.cfg.ProgressInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	frames := c.client.Frames()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			c.trigger(StopCancelled, nil)
			return
		case <-tick:
			c.logProgress()
		case f, ok := <-frames:
			if !ok {
				c.streamEnded()
				return
			}
			c.handleFrame(f)
		}
	}
}

// drain closes the connection and processes frames it already handed
// over. A receive in flight at this point is dropped by the connection.
func (c *Coordinator) drain() {
	if err := c.client.Close(); err != nil {
		c.logger.Debug("close connection", "error", err)
	}

	drained := 0
	for f := range c.client.Frames() {
		c.handleFrame(f)
		drained++
	}
	if drained > 0 {
		c.logger.Debug("drained buffered frames", "frames", drained)
	}
}

// streamEnded maps the connection's terminal signal to a stop reason.
func (c *Coordinator) streamEnded() {
	term := c.client.Termination()
	switch term.Reason {
	case connection.ReasonClosed:
		c.trigger(StopRemoteClosed, nil)
	case connection.ReasonFailed:
		c.trigger(StopConnectionFailed, fmt.Errorf("connection: %w", term.Err))
	default:
		c.trigger(StopCancelled, nil)
	}
}

// handleFrame decodes one frame and delivers its events.
func (c *Coordinator) handleFrame(f connection.Frame) {
	c.frames.Add(1)
	c.metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()

	if c.discard {
		return
	}

	events, err := c.decoder.Decode(f)
	if err != nil {
		c.framingError(f, err)
		return
	}
	c.metrics.EventsDecoded.Add(float64(len(events)))

	if c.cfg.MaxCount > 0 {
		remaining := c.cfg.MaxCount - c.events.Load()
		if int64(len(events)) >= remaining {
			events = events[:remaining]
			c.discard = true
		}
	}

	if len(events) > 0 && c.fanout.DeliverAll(events) {
		c.events.Add(int64(len(events)))
		c.metrics.EventsDelivered.Add(float64(len(events)))
	}

	if c.discard {
		c.logger.Info("event limit reached", "max_count", c.cfg.MaxCount)
		c.trigger(StopMaxCount, nil)
	}
}

func (c *Coordinator) framingError(f connection.Frame, err error) {
	c.framingErrors.Add(1)

	kind := "unknown"
	var fe *decode.FramingError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}
	c.metrics.FramingErrors.WithLabelValues(kind).Inc()

	if c.cfg.FramingPolicy == FramingAbort {
		c.logger.Error("malformed frame, aborting", "kind", f.Kind.String(), "length", len(f.Data), "error", err)
		c.discard = true
		c.trigger(StopFramingError, err)
		return
	}
	c.logger.Warn("malformed frame skipped", "kind", f.Kind.String(), "length", len(f.Data), "error", err)
}

// joinSinks waits for every sink, cancelling them if the drain timeout
// expires first.
func (c *Coordinator) joinSinks(g *errgroup.Group, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		c.logger.Warn("sinks did not drain in time, aborting",
			"timeout", c.cfg.DrainTimeout,
			"pending", c.pending(),
		)
		cancel()
		return <-done
	}
}

// trigger records the first stop reason and wakes the ingest loop.
func (c *Coordinator) trigger(reason StopReason, err error) {
	c.stopOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.triggerErr = err
		c.reasonMu.Unlock()

		c.logger.Info("stop requested", "reason", string(reason))
		close(c.stopCh)
	})
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.State.Set(float64(s))
}

// pending returns the number of events still queued per consumer.
func (c *Coordinator) pending() map[string]int {
	stats := c.fanout.Stats()
	out := make(map[string]int, len(stats.Queues))
	for name, q := range stats.Queues {
		out[name] = q.Count
	}
	return out
}

func (c *Coordinator) updateQueueMetrics() {
	for name, n := range c.pending() {
		c.metrics.QueueDepth.WithLabelValues(name).Set(float64(n))
	}
}

func (c *Coordinator) logProgress() {
	c.updateQueueMetrics()
	c.logger.Info("acquisition progress",
		"events", c.events.Load(),
		"frames", c.frames.Load(),
		"framing_errors", c.framingErrors.Load(),
		"queues", c.pending(),
	)
}
