package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/model"
)

// batchSender is satisfied by *pgxpool.Pool.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// DatabaseConfig holds DatabaseSink settings.
type DatabaseConfig struct {
	RunID         uuid.UUID
	BatchSize     int
	FlushInterval time.Duration
	FinalTimeout  time.Duration // Bound on the last flush after an abort
}

// DefaultDatabaseConfig returns default batching.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
		FinalTimeout:  5 * time.Second,
	}
}

// DatabaseStats holds DatabaseSink counters.
type DatabaseStats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// DatabaseSink inserts events into measured_events in batches. A batch is
// flushed when full, on every FlushInterval tick, and at end-of-stream.
type DatabaseSink struct {
	cfg     DatabaseConfig
	db      batchSender
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Batching
	batch   []eventRow
	batchMu sync.Mutex
	seq     int64

	// Serializes flushes from the ticker and the consume loop
	flushMu sync.Mutex

	stats DatabaseStats
}

type eventRow struct {
	Seq        int64
	Timestamp  int64
	PeakHeight int64
	Cycle      int64
	Speed      int64
	ReceivedAt time.Time
}

// NewDatabaseSink creates a sink writing through db.
func NewDatabaseSink(cfg DatabaseConfig, db batchSender, logger *slog.Logger, m *metrics.Metrics) *DatabaseSink {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDatabaseConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = def.FinalTimeout
	}
	return &DatabaseSink{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: m,
		batch:   make([]eventRow, 0, cfg.BatchSize),
	}
}

// Name returns "database".
func (s *DatabaseSink) Name() string { return "database" }

// Stats returns current counters.
func (s *DatabaseSink) Stats() DatabaseStats {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.stats
}

// Run consumes the queue until the sentinel. A failed flush ends the run
// with that error.
func (s *DatabaseSink) Run(ctx context.Context, q *fanout.Queue) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errOnce  sync.Once
		flushErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			flushErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.flushLoop(loopCtx, fail)
	}()

	s.logger.Info("database sink started",
		"run_id", s.cfg.RunID,
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)

	var runErr error
	for {
		ev, ok, err := q.ReceiveContext(loopCtx)
		if err != nil {
			runErr = err
			break
		}
		if !ok {
			break
		}
		if s.handleEvent(ev) {
			if err := s.flush(loopCtx); err != nil {
				fail(err)
			}
		}
	}

	cancel()
	wg.Wait()

	// A flush error takes precedence over the cancellation it caused.
	if flushErr != nil {
		s.logger.Error("database sink failed", "error", flushErr)
		return flushErr
	}

	// Final flush. After a hard abort ctx is already done, so use a
	// detached context with its own bound.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalTimeout)
	defer finalCancel()
	if err := s.flush(finalCtx); err != nil {
		s.logger.Error("final flush failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	stats := s.Stats()
	s.logger.Info("database sink finished",
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"flushes", stats.Flushes,
	)
	return runErr
}

// flushLoop periodically flushes the batch.
func (s *DatabaseSink) flushLoop(ctx context.Context, fail func(error)) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.flush(ctx); err != nil {
				fail(err)
				return
			}
		}
	}
}

// handleEvent adds an event to the batch and reports whether it is full.
func (s *DatabaseSink) handleEvent(ev model.MeasuredEvent) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.seq++
	s.batch = append(s.batch, s.transform(s.seq, ev, time.Now()))
	if s.metrics != nil {
		s.metrics.SinkEvents.WithLabelValues(s.Name()).Inc()
	}
	return len(s.batch) >= s.cfg.BatchSize
}

// transform converts an event into a row.
func (s *DatabaseSink) transform(seq int64, ev model.MeasuredEvent, receivedAt time.Time) eventRow {
	return eventRow{
		Seq:        seq,
		Timestamp:  int64(ev.Timestamp),
		PeakHeight: int64(ev.PeakHeight),
		Cycle:      int64(ev.Cycle),
		Speed:      int64(ev.Speed),
		ReceivedAt: receivedAt,
	}
}

// flush writes the current batch. On failure the rows are put back so a
// later flush can retry them.
func (s *DatabaseSink) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := s.batch
	s.batch = make([]eventRow, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	start := time.Now()

	conflicts, err := s.batchInsert(ctx, batch)
	if s.metrics != nil {
		s.metrics.DBFlushDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.batchMu.Lock()
		s.batch = append(batch, s.batch...)
		s.stats.Errors++
		s.batchMu.Unlock()
		if s.metrics != nil {
			s.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
		}
		return fmt.Errorf("insert %d events: %w", len(batch), err)
	}

	s.batchMu.Lock()
	s.stats.Inserts += int64(len(batch) - conflicts)
	s.stats.Conflicts += int64(conflicts)
	s.stats.Flushes++
	s.batchMu.Unlock()

	s.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *DatabaseSink) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO measured_events (run_id, seq, timestamp, peak_height, cycle, speed, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (run_id, seq) DO NOTHING
		`, s.cfg.RunID, r.Seq, r.Timestamp, r.PeakHeight, r.Cycle, r.Speed, r.ReceivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
