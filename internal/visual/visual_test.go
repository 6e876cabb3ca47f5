package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/mbfilter/internal/histogram"
	"github.com/rickgao/mbfilter/internal/model"
)

func events(peaks ...uint64) []model.MeasuredEvent {
	out := make([]model.MeasuredEvent, len(peaks))
	for i, p := range peaks {
		out[i] = model.MeasuredEvent{Timestamp: uint64(i), PeakHeight: p}
	}
	return out
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []Batch{
		{RunID: "run-1", Seq: 1, PeakHeights: []uint64{1, 2, 3}},
		{RunID: "run-1", Seq: 2, Final: true},
	}
	for _, b := range in {
		if err := WriteFrame(&buf, b); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	first, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if first.Seq != 1 || len(first.PeakHeights) != 3 || first.PeakHeights[2] != 3 || first.Final {
		t.Errorf("first = %+v", first)
	}

	last, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !last.Final || last.RunID != "run-1" {
		t.Errorf("last = %+v, want final batch of run-1", last)
	}

	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestReadFrame_Oversized(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(r); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("ReadFrame() error = %v, want length error", err)
	}
}

func TestHistogramRenderer(t *testing.T) {
	h, err := histogram.New(0, 100, 10)
	if err != nil {
		t.Fatalf("histogram.New failed: %v", err)
	}
	r := NewHistogramRenderer(h, nil)

	for i := 0; i < 100; i++ {
		r.Publish(events(5, 15, 95))
	}
	r.Publish(nil)
	r.Finish()

	s := r.Snapshot()
	if s.Total != 300 {
		t.Errorf("Total = %d, want 300", s.Total)
	}
	if s.Counts[0] != 100 || s.Counts[1] != 100 || s.Counts[9] != 100 {
		t.Errorf("Counts = %v", s.Counts)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after Finish, want 0", r.Pending())
	}

	// Finish is idempotent and later batches are ignored.
	r.Finish()
	r.Publish(events(1))
	if got := r.Histogram().Total(); got != 300 {
		t.Errorf("Total after late publish = %d, want 300", got)
	}
}

// TestHelperProcess is the child renderer used by the process tests. It
// reads frames from stdin and writes "batches peaks final" to the file
// named by MBFILTER_HELPER_OUT.
func TestHelperProcess(t *testing.T) {
	out := os.Getenv("MBFILTER_HELPER_OUT")
	if out == "" {
		return
	}

	var batches, peaks int
	var final bool
	for {
		b, err := ReadFrame(os.Stdin)
		if err != nil {
			break
		}
		batches++
		peaks += len(b.PeakHeights)
		final = b.Final
	}
	os.WriteFile(out, []byte(fmt.Sprintf("%d %d %t", batches, peaks, final)), 0644)
	os.Exit(0)
}

func TestProcessPublisher(t *testing.T) {
	out := filepath.Join(t.TempDir(), "helper.out")
	t.Setenv("MBFILTER_HELPER_OUT", out)

	p, err := StartProcess(context.Background(), ProcessConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$"},
		RunID:       "run-7",
		WaitTimeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}

	p.Publish(events(1, 2, 3))
	p.Publish(events(4, 5))
	p.Finish()
	p.Finish()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("helper output: %v", err)
	}
	// two data batches plus the final marker
	if got, want := string(data), "3 5 true"; got != want {
		t.Errorf("helper saw %q, want %q", got, want)
	}
}

func TestStartProcess_MissingCommand(t *testing.T) {
	_, err := StartProcess(context.Background(), ProcessConfig{Command: filepath.Join(t.TempDir(), "no-such-renderer")}, nil)
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	batches  []Batch
	flushed  bool
	drained  bool
	failNext bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("nats: connection closed")
	}
	b, err := UnmarshalBatch(data)
	if err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeNATS) FlushTimeout(time.Duration) error {
	f.flushed = true
	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeNATS{}
	p := newNATSPublisher(NATSConfig{Subject: "mbfilter.events", RunID: "run-9"}, conn, nil)

	p.Publish(events(10, 20))
	conn.failNext = true
	p.Publish(events(30))
	p.Publish(events(40))
	p.Finish()
	p.Finish()
	p.Publish(events(50))

	if len(conn.batches) != 3 {
		t.Fatalf("published %d batches, want 3", len(conn.batches))
	}
	if conn.subjects[0] != "mbfilter.events" {
		t.Errorf("subject = %q, want mbfilter.events", conn.subjects[0])
	}
	if got := conn.batches[0].PeakHeights; len(got) != 2 || got[1] != 20 {
		t.Errorf("first batch peaks = %v, want [10 20]", got)
	}
	if conn.batches[1].Seq != 3 {
		t.Errorf("second delivered Seq = %d, want 3 (seq 2 failed)", conn.batches[1].Seq)
	}
	last := conn.batches[2]
	if !last.Final || last.RunID != "run-9" {
		t.Errorf("last batch = %+v, want final batch of run-9", last)
	}
	if !conn.flushed || !conn.drained {
		t.Errorf("flushed=%v drained=%v, want both", conn.flushed, conn.drained)
	}
	if p.errors != 1 {
		t.Errorf("errors = %d, want 1", p.errors)
	}
}
