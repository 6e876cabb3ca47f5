package main

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/mbfilter/internal/decode"
	"github.com/rickgao/mbfilter/internal/model"
)

var errClientGone = errors.New("client went away")

// Modes select the frame encoding.
const (
	ModeBinary = "binary"
	ModeText   = "text"
)

// emulatorConfig controls the generated stream.
type emulatorConfig struct {
	Mode     string
	Interval time.Duration // Pause between frames
	PerFrame int           // Events per binary frame; text frames carry one
	Count    int           // Events per connection before a normal close; 0 = endless
	Seed     uint64
}

// emulator serves a synthetic MBFilter stream on every WebSocket
// connection.
type emulator struct {
	cfg      emulatorConfig
	decoder  *decode.Decoder
	logger   *slog.Logger
	upgrader websocket.Upgrader

	sessions atomic.Int64
}

func newEmulator(cfg emulatorConfig, decoder *decode.Decoder, logger *slog.Logger) *emulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PerFrame <= 0 {
		cfg.PerFrame = 1
	}
	return &emulator{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (e *emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := e.sessions.Add(1)
	q := r.URL.Query()
	logger := e.logger.With("session", id, "remote", r.RemoteAddr)
	logger.Info("client connected",
		"k", q.Get("k"),
		"l", q.Get("l"),
		"m", q.Get("m"),
		"pthresh", q.Get("pthresh"),
		"t_dead", q.Get("t_dead"),
	)

	// Watch for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent, err := e.stream(conn, gone, id)
	if err != nil {
		logger.Info("client disconnected", "events", sent, "error", err)
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
		time.Now().Add(time.Second))
	<-gone
	logger.Info("stream complete", "events", sent)
}

// stream writes frames until Count events are sent, the client leaves or
// a write fails.
func (e *emulator) stream(conn *websocket.Conn, gone <-chan struct{}, session int64) (int, error) {
	gen := newGenerator(e.cfg.Seed + uint64(session))

	sent := 0
	for e.cfg.Count == 0 || sent < e.cfg.Count {
		select {
		case <-gone:
			return sent, errClientGone
		default:
		}

		n := e.cfg.PerFrame
		if e.cfg.Mode == ModeText {
			n = 1
		}
		if e.cfg.Count > 0 && sent+n > e.cfg.Count {
			n = e.cfg.Count - sent
		}

		events := gen.next(n)
		if err := e.write(conn, events); err != nil {
			return sent, err
		}
		sent += n

		if e.cfg.Interval > 0 {
			time.Sleep(e.cfg.Interval)
		}
	}
	return sent, nil
}

func (e *emulator) write(conn *websocket.Conn, events []model.MeasuredEvent) error {
	if e.cfg.Mode == ModeText {
		line, err := e.decoder.EncodeLine(events[0])
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	}

	data, err := e.decoder.EncodeBinary(events)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// generator produces plausible pulses: an increasing timestamp, a peak
// height around a few calibration lines and a slowly advancing cycle.
type generator struct {
	rng       *rand.Rand
	timestamp uint64
	cycle     uint64
}

var lines = []float64{1200, 3400, 5100}

func newGenerator(seed uint64) *generator {
	return &generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *generator) next(n int) []model.MeasuredEvent {
	events := make([]model.MeasuredEvent, n)
	for i := range events {
		g.timestamp += 1 + g.rng.Uint64N(500)
		if g.timestamp >= 1<<24 {
			g.timestamp -= 1 << 24
			g.cycle++
		}

		peak := lines[g.rng.IntN(len(lines))] + g.rng.NormFloat64()*80
		if peak < 0 {
			peak = 0
		}

		events[i] = model.MeasuredEvent{
			Timestamp:  g.timestamp,
			PeakHeight: uint64(peak) & 0xffffff,
			Cycle:      g.cycle & 0xffffff,
			Speed:      1000 + g.rng.Uint64N(50),
		}
	}
	return events
}
