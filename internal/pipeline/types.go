package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/model"
)

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("coordinator already started")

// State is the coordinator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StopReason records what ended ingestion.
type StopReason string

const (
	StopNone             StopReason = ""
	StopOperator         StopReason = "operator stop"
	StopCancelled        StopReason = "cancelled"
	StopRemoteClosed     StopReason = "instrument closed the connection"
	StopConnectionFailed StopReason = "connection failed"
	StopConnectFailed    StopReason = "connect failed"
	StopMaxCount         StopReason = "event limit reached"
	StopFramingError     StopReason = "framing error"
	StopSinkFailed       StopReason = "sink failed"
)

// Framing policies.
const (
	FramingSkip  = "skip"
	FramingAbort = "abort"
)

// Config configures a Coordinator.
type Config struct {
	RunID            uuid.UUID // Generated when zero
	Filter           model.FilterParams
	MaxCount         int64  // 0 = unlimited
	FramingPolicy    string // FramingSkip or FramingAbort
	DrainTimeout     time.Duration
	QueueCapacity    int
	ProgressInterval time.Duration // 0 disables periodic stats logs
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		FramingPolicy:    FramingSkip,
		DrainTimeout:     30 * time.Second,
		QueueCapacity:    fanout.DefaultConfig().QueueCapacity,
		ProgressInterval: 10 * time.Second,
	}
}

// Stats is a live view of a run.
type Stats struct {
	RunID         uuid.UUID
	State         State
	Reason        StopReason
	Events        int64
	Frames        int64
	FramingErrors int64
	Fanout        fanout.Stats
}

// Summary describes a finished run.
type Summary struct {
	RunID         uuid.UUID
	Events        int64
	Frames        int64
	FramingErrors int64
	Reason        StopReason
	Duration      time.Duration
	Filter        model.FilterParams
}

func (s Summary) String() string {
	return fmt.Sprintf("measured %d events in %s (%d frames, %d framing errors); filter %s; stopped: %s",
		s.Events, s.Duration.Round(time.Millisecond), s.Frames, s.FramingErrors, s.Filter, s.Reason)
}
