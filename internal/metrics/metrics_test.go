package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FramesReceived.WithLabelValues("binary").Add(3)
	m.EventsDecoded.Add(12)
	m.FramingErrors.WithLabelValues("bad_length").Inc()
	m.QueueDepth.WithLabelValues("file").Set(42)
	m.State.Set(1)

	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("binary")); got != 3 {
		t.Errorf("frames_received_total{kind=binary} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EventsDecoded); got != 12 {
		t.Errorf("events_decoded_total = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("file")); got != 42 {
		t.Errorf("queue_depth{consumer=file} = %v, want 42", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"mbfilter_frames_received_total",
		"mbfilter_events_decoded_total",
		"mbfilter_framing_errors_total",
		"mbfilter_queue_depth",
		"mbfilter_pipeline_state",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Two runs in one process must not collide.
	a := NewUnregistered()
	b := NewUnregistered()

	a.EventsDelivered.Inc()
	if got := testutil.ToFloat64(b.EventsDelivered); got != 0 {
		t.Errorf("second registry saw %v events, want 0", got)
	}
}
