package visual

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/mbfilter/internal/model"
)

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL          string
	Subject      string
	RunID        string
	ClientName   string
	FlushTimeout time.Duration
}

// NATSPublisher publishes msgpack batches on a subject. nats.go buffers
// outgoing messages, so Publish does not wait on subscribers.
type NATSPublisher struct {
	cfg    NATSConfig
	logger *slog.Logger
	conn   natsConn

	mu       sync.Mutex
	seq      uint64
	finished bool
	errors   int64
}

// ConnectNATS dials the server and returns a publisher.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "mbclient"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info("connected to nats", "url", cfg.URL, "subject", cfg.Subject)
	return newNATSPublisher(cfg, conn, logger), nil
}

func newNATSPublisher(cfg NATSConfig, conn natsConn, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &NATSPublisher{cfg: cfg, conn: conn, logger: logger}
}

// Publish sends one batch.
func (p *NATSPublisher) Publish(events []model.MeasuredEvent) {
	if len(events) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		p.logger.Warn("batch published after finish", "events", len(events))
		return
	}
	p.publish(model.PeakHeights(events), false)
}

// Finish sends the final batch, flushes and drains the connection.
func (p *NATSPublisher) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true

	p.publish(nil, true)

	if err := p.conn.FlushTimeout(p.cfg.FlushTimeout); err != nil {
		p.logger.Warn("nats flush failed", "error", err)
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
	}
	p.logger.Info("nats publisher finished",
		"batches", p.seq,
		"errors", p.errors,
	)
}

// Must be called with mu held.
func (p *NATSPublisher) publish(peaks []uint64, final bool) {
	p.seq++
	b := Batch{RunID: p.cfg.RunID, Seq: p.seq, PeakHeights: peaks, Final: final}
	data, err := b.Marshal()
	if err == nil {
		err = p.conn.Publish(p.cfg.Subject, data)
	}
	if err != nil {
		p.errors++
		p.logger.Error("nats publish failed", "seq", b.Seq, "error", err)
	}
}
