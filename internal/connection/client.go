package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents the WebSocket connection to one instrument.
type Client interface {
	// Connect establishes the WebSocket connection and starts reading.
	// Cancelling ctx later closes the socket and ends the frame stream.
	Connect(ctx context.Context) error

	// Close interrupts the in-flight receive and closes the socket.
	Close() error

	// Frames returns the ordered stream of received frames. It is closed
	// once the read loop exits; Termination then reports why.
	Frames() <-chan Frame

	// Done is closed when the read loop has exited.
	Done() <-chan struct{}

	// Termination returns the terminal signal of the stream.
	Termination() Termination

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	frames   chan Frame
	done     chan struct{} // closed when shutdown starts
	finished chan struct{} // closed when readLoop exits

	// Control frame serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
	term       Termination
	stopWatch  func() bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		frames:   make(chan Frame, cfg.BufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		// Close() raced with the dial.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	// Instrument pings are answered here; the default handler would race
	// with our own control writes.
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.stopWatch = context.AfterFunc(ctx, func() {
		c.logger.Debug("connection context cancelled")
		c.shutdown()
	})

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(conn)
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	return c.shutdown()
}

// Frames returns the frame channel.
func (c *client) Frames() <-chan Frame {
	return c.frames
}

// Done returns a channel closed when the read loop exits.
func (c *client) Done() <-chan struct{} {
	return c.finished
}

// Termination returns the terminal signal of the frame stream.
func (c *client) Termination() Termination {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.term
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// shutdown closes the socket on our side. The first caller decides the
// termination reason; later calls are no-ops.
func (c *client) shutdown() error {
	return c.terminate(Termination{Reason: ReasonCancelled})
}

func (c *client) terminate(term Termination) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.term = term
	conn := c.conn
	stop := c.stopWatch
	c.mu.Unlock()

	close(c.done)
	if stop != nil {
		stop()
	}

	if conn == nil {
		// Never connected: nothing will close the frame stream otherwise.
		close(c.frames)
		close(c.finished)
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	// Unblocks the pending ReadMessage in readLoop.
	return conn.Close()
}

// readLoop reads messages from the WebSocket and forwards them as frames.
func (c *client) readLoop(conn *websocket.Conn) {
	defer close(c.finished)
	defer close(c.frames)

	for {
		if c.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}

		msgType, data, err := conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.readFailed(conn, err)
			return
		}

		kind := FrameBinary
		if msgType == websocket.TextMessage {
			kind = FrameText
		}

		select {
		case c.frames <- Frame{Kind: kind, Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			// Cancelled while this receive was in flight.
			return
		}
	}
}

// readFailed classifies a read error. Errors after our own Close are the
// expected way the loop stops and keep the cancelled reason.
func (c *client) readFailed(conn *websocket.Conn, err error) {
	term := classify(err)

	c.mu.Lock()
	if c.closed {
		c.connected = false
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	c.term = term
	stop := c.stopWatch
	c.mu.Unlock()

	close(c.done)
	if stop != nil {
		stop()
	}
	conn.Close()

	switch term.Reason {
	case ReasonClosed:
		if term.CloseCode == websocket.CloseNormalClosure || term.CloseCode == websocket.CloseGoingAway {
			c.logger.Info("connection closed by instrument", "code", term.CloseCode)
		} else {
			c.logger.Warn("connection closed by instrument", "code", term.CloseCode, "error", err)
		}
	default:
		c.logger.Error("connection read failed", "error", err)
	}
}

// classify maps a read error to a terminal signal.
func classify(err error) Termination {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return Termination{Reason: ReasonClosed, CloseCode: closeErr.Code}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Termination{Reason: ReasonClosed}
	}
	return Termination{Reason: ReasonFailed, Err: err}
}

// heartbeatLoop pings the instrument and watches for a stale connection.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if c.cfg.PingTimeout <= 0 {
				continue
			}

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if time.Since(lastPong) > c.cfg.PingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PingTimeout,
				)
				c.terminate(Termination{Reason: ReasonFailed, Err: ErrStaleConnection})
				return
			}
		}
	}
}
