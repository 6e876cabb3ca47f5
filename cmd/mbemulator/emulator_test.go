package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/decode"
	"github.com/rickgao/mbfilter/internal/model"
)

func dial(t *testing.T, cfg emulatorConfig) (*websocket.Conn, *decode.Decoder) {
	t.Helper()
	decoder, err := decode.New(decode.DefaultConfig())
	if err != nil {
		t.Fatalf("decode.New failed: %v", err)
	}
	server := httptest.NewServer(newEmulator(cfg, decoder, nil))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket?k=1&l=2&m=3&pthresh=4&t_dead=5"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, decoder
}

// readAll reads frames until the emulator closes the stream.
func readAll(t *testing.T, conn *websocket.Conn, decoder *decode.Decoder) ([]model.MeasuredEvent, []connection.FrameKind) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var events []model.MeasuredEvent
	var kinds []connection.FrameKind
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			return events, kinds
		}
		kind := connection.FrameBinary
		if mt == websocket.TextMessage {
			kind = connection.FrameText
		}
		evs, err := decoder.Decode(connection.Frame{Kind: kind, Data: data})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, evs...)
		kinds = append(kinds, kind)
	}
}

func TestEmulator_Binary(t *testing.T) {
	conn, decoder := dial(t, emulatorConfig{Mode: ModeBinary, PerFrame: 8, Count: 20, Seed: 1})

	events, kinds := readAll(t, conn, decoder)
	if len(events) != 20 {
		t.Errorf("received %d events, want 20", len(events))
	}
	// 8 + 8 + 4
	if len(kinds) != 3 {
		t.Errorf("received %d frames, want 3", len(kinds))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Cycle == events[i-1].Cycle && events[i].Timestamp <= events[i-1].Timestamp {
			t.Fatalf("timestamps not increasing at %d: %d after %d", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
}

func TestEmulator_Text(t *testing.T) {
	conn, decoder := dial(t, emulatorConfig{Mode: ModeText, PerFrame: 8, Count: 5, Seed: 2})

	events, kinds := readAll(t, conn, decoder)
	if len(events) != 5 || len(kinds) != 5 {
		t.Fatalf("received %d events in %d frames, want 5 in 5", len(events), len(kinds))
	}
	for i, k := range kinds {
		if k != connection.FrameText {
			t.Errorf("frame %d kind = %v, want text", i, k)
		}
	}
}

func TestGenerator_FitsFieldWidth(t *testing.T) {
	g := newGenerator(42)
	for _, ev := range g.next(10000) {
		for _, v := range ev.Fields() {
			if v >= 1<<24 {
				t.Fatalf("field %d does not fit 3 bytes: %+v", v, ev)
			}
		}
	}
}
