package connection

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/mbfilter/internal/model"
)

// Errors
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrAlreadyClosed    = errors.New("already closed")
)

// FrameKind identifies the WebSocket message type a frame arrived as.
type FrameKind int

const (
	FrameBinary FrameKind = iota
	FrameText
)

func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "binary"
	case FrameText:
		return "text"
	default:
		return "unknown"
	}
}

// Frame is one WebSocket message received from the instrument.
type Frame struct {
	Kind       FrameKind
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Reason explains why a frame stream ended.
type Reason int

const (
	ReasonNone      Reason = iota // Stream still open
	ReasonClosed                  // Remote end closed the socket
	ReasonCancelled               // Close() or context cancellation on our side
	ReasonFailed                  // Read error or stale connection
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonClosed:
		return "closed"
	case ReasonCancelled:
		return "cancelled"
	case ReasonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Termination is the terminal signal of a frame stream.
type Termination struct {
	Reason    Reason
	CloseCode int   // WebSocket close code when Reason is ReasonClosed (0 if none was sent)
	Err       error // Set when Reason is ReasonFailed
}

func (t Termination) String() string {
	switch t.Reason {
	case ReasonClosed:
		return fmt.Sprintf("closed (code %d)", t.CloseCode)
	case ReasonFailed:
		return fmt.Sprintf("failed: %v", t.Err)
	default:
		return t.Reason.String()
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // ws://host:port/websocket?k=...
	UserAgent        string        // Sent in the handshake (empty = gorilla default)
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	ReadTimeout      time.Duration // Max silence between messages (0 = wait forever)
	PingInterval     time.Duration // Keepalive ping period (0 = no pings)
	PingTimeout      time.Duration // Max time without pong before considering connection stale (0 = never)
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// DefaultPath is the endpoint the instrument serves its event stream on.
const DefaultPath = "/websocket"

// BuildURL returns the stream URL for an instrument, carrying the filter
// settings as query parameters.
func BuildURL(host string, port int, path string, p model.FilterParams) string {
	if path == "" {
		path = DefaultPath
	}

	q := url.Values{}
	q.Set("k", strconv.Itoa(p.K))
	q.Set("l", strconv.Itoa(p.L))
	q.Set("m", strconv.Itoa(p.M))
	q.Set("pthresh", strconv.Itoa(p.PeakThreshold))
	q.Set("t_dead", strconv.Itoa(p.DeadTime))

	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     path,
		RawQuery: q.Encode(),
	}
	return u.String()
}
