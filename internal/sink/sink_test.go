package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/model"
)

func testEvents(n int) []model.MeasuredEvent {
	out := make([]model.MeasuredEvent, n)
	for i := range out {
		out[i] = model.MeasuredEvent{
			Timestamp:  uint64(1000 + i),
			PeakHeight: uint64(i % 97),
			Cycle:      uint64(i / 10),
			Speed:      7,
		}
	}
	return out
}

// filledQueue returns a closed queue holding events.
func filledQueue(events []model.MeasuredEvent) *fanout.Queue {
	q := fanout.NewGrowableBuffer[model.MeasuredEvent](16)
	for _, ev := range events {
		q.Send(ev)
	}
	q.Close()
	return q
}

func TestFileSink_WritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	m := metrics.NewUnregistered()
	s, err := NewFileSink(path, nil, m)
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	events := testEvents(250)
	if err := s.Run(context.Background(), filledQueue(events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	if len(records) != len(events)+1 {
		t.Fatalf("got %d records, want %d", len(records), len(events)+1)
	}
	if !reflect.DeepEqual(records[0], model.CSVHeader) {
		t.Errorf("header = %v, want %v", records[0], model.CSVHeader)
	}
	for i, ev := range events {
		if !reflect.DeepEqual(records[i+1], ev.Record()) {
			t.Fatalf("row %d = %v, want %v", i, records[i+1], ev.Record())
		}
	}
	if got := s.Stats().Events; got != int64(len(events)) {
		t.Errorf("Stats().Events = %d, want %d", got, len(events))
	}
}

func TestFileSink_Example(t *testing.T) {
	var sb strings.Builder
	s := NewWriterSink(&sb, nil, nil)

	q := filledQueue([]model.MeasuredEvent{{Timestamp: 1, PeakHeight: 2, Cycle: 3, Speed: 4}})
	if err := s.Run(context.Background(), q); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "timestamp,peak_height,cycle,speed\n1,2,3,4\n"
	if sb.String() != want {
		t.Errorf("output = %q, want %q", sb.String(), want)
	}
}

func TestNewFileSink_BadPath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "out.csv"), nil, nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("disk full")
	}
	w.after--
	return len(p), nil
}

type trackingCloser struct{ closed bool }

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestFileSink_WriteErrorClosesFile(t *testing.T) {
	closer := &trackingCloser{}
	s := NewWriterSink(&failingWriter{after: 3}, nil, nil)
	s.closer = closer

	err := s.Run(context.Background(), filledQueue(testEvents(10)))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v, want disk full", err)
	}
	if !closer.closed {
		t.Error("output not closed after write error")
	}
	if got := s.Stats().Errors; got != 1 {
		t.Errorf("Stats().Errors = %d, want 1", got)
	}
}

func TestFileSink_CancelClosesFile(t *testing.T) {
	closer := &trackingCloser{}
	var sb strings.Builder
	s := NewWriterSink(&sb, nil, nil)
	s.closer = closer

	q := fanout.NewGrowableBuffer[model.MeasuredEvent](16)
	q.Send(model.MeasuredEvent{Timestamp: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, q) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !closer.closed {
		t.Error("output not closed after cancel")
	}
	if !strings.HasSuffix(sb.String(), "1,0,0,0\n") {
		t.Errorf("event before cancel not written: %q", sb.String())
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	batches  [][]model.MeasuredEvent
	finished int
}

func (p *recordingPublisher) Publish(events []model.MeasuredEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]model.MeasuredEvent(nil), events...))
}

func (p *recordingPublisher) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
}

func TestVisualizationSink_Batches(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewVisualizationSink(pub, "test", 1000, nil, metrics.NewUnregistered())

	events := testEvents(2500)
	if err := s.Run(context.Background(), filledQueue(events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sizes := make([]int, len(pub.batches))
	for i, b := range pub.batches {
		sizes[i] = len(b)
	}
	if !reflect.DeepEqual(sizes, []int{1000, 1000, 500}) {
		t.Errorf("batch sizes = %v, want [1000 1000 500]", sizes)
	}
	if pub.finished != 1 {
		t.Errorf("Finish called %d times, want 1", pub.finished)
	}

	var got []model.MeasuredEvent
	for _, b := range pub.batches {
		got = append(got, b...)
	}
	if !reflect.DeepEqual(got, events) {
		t.Error("published events differ from queued events")
	}
	if s.Batches() != 3 {
		t.Errorf("Batches() = %d, want 3", s.Batches())
	}
}

func TestVisualizationSink_ExactMultiple(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewVisualizationSink(pub, "test", 10, nil, nil)

	if err := s.Run(context.Background(), filledQueue(testEvents(20))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(pub.batches) != 2 {
		t.Errorf("published %d batches, want 2 (no empty final batch)", len(pub.batches))
	}
	if pub.finished != 1 {
		t.Errorf("Finish called %d times, want 1", pub.finished)
	}
}

func TestVisualizationSink_CancelPublishesPartial(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewVisualizationSink(pub, "test", 100, nil, nil)

	q := fanout.NewGrowableBuffer[model.MeasuredEvent](16)
	for _, ev := range testEvents(5) {
		q.Send(ev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, q) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || len(pub.batches[0]) != 5 {
		t.Errorf("batches = %d, want one partial batch of 5", len(pub.batches))
	}
	if pub.finished != 1 {
		t.Errorf("Finish called %d times, want 1", pub.finished)
	}
}
