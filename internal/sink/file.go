package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/model"
)

// StdoutPath selects standard output as the CSV destination.
const StdoutPath = "-"

// FileSink writes every event as a CSV row.
type FileSink struct {
	path    string
	out     io.Writer
	closer  io.Closer // nil when the writer is not owned
	logger  *slog.Logger
	metrics *metrics.Metrics

	events atomic.Int64
	errors atomic.Int64
}

// NewFileSink creates (or truncates) path. StdoutPath writes to os.Stdout,
// which is never closed.
func NewFileSink(path string, logger *slog.Logger, m *metrics.Metrics) (*FileSink, error) {
	if path == StdoutPath {
		return NewWriterSink(os.Stdout, logger, m), nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	s := NewWriterSink(f, logger, m)
	s.path = path
	s.closer = f
	return s, nil
}

// NewWriterSink writes CSV to w without taking ownership of it.
func NewWriterSink(w io.Writer, logger *slog.Logger, m *metrics.Metrics) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{path: StdoutPath, out: w, logger: logger, metrics: m}
}

// Name returns "file".
func (s *FileSink) Name() string { return "file" }

// Path returns the output path, or StdoutPath.
func (s *FileSink) Path() string { return s.path }

// Stats returns the sink counters.
func (s *FileSink) Stats() Stats {
	return Stats{Events: s.events.Load(), Errors: s.errors.Load()}
}

// Run writes the header and then one row per event. Each row is flushed
// so that an abort loses at most the row being written.
func (s *FileSink) Run(ctx context.Context, q *fanout.Queue) (err error) {
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.errors.Add(1)
			if s.metrics != nil {
				s.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
		s.logger.Info("file sink finished",
			"path", s.path,
			"events", s.events.Load(),
			"error", err,
		)
	}()

	w := csv.NewWriter(s.out)
	if err := s.writeRecord(w, model.CSVHeader); err != nil {
		return err
	}

	for {
		ev, ok, err := q.ReceiveContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.writeRecord(w, ev.Record()); err != nil {
			return err
		}
		s.events.Add(1)
		if s.metrics != nil {
			s.metrics.SinkEvents.WithLabelValues(s.Name()).Inc()
		}
	}
}

func (s *FileSink) writeRecord(w *csv.Writer, record []string) error {
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv record: %w", err)
	}
	return nil
}

func (s *FileSink) close() error {
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	if err := c.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
