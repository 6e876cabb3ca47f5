package config

import (
	"time"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/model"
)

// Config is the root configuration for an acquisition run.
type Config struct {
	Instrument    InstrumentConfig    `yaml:"instrument"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Acquisition   AcquisitionConfig   `yaml:"acquisition"`
	Output        OutputConfig        `yaml:"output"`
	Visualization VisualizationConfig `yaml:"visualization"`
	Database      DatabaseConfig      `yaml:"database"`
	Status        StatusConfig        `yaml:"status"`
	Log           LogConfig           `yaml:"log"`
}

// InstrumentConfig locates the instrument and sets its filter.
type InstrumentConfig struct {
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Path      string             `yaml:"path"`
	URL       string             `yaml:"url"`        // Full stream URL; overrides host/port/path/filter query
	BlockSize int                `yaml:"block_size"` // Bytes per binary event block
	Filter    model.FilterParams `yaml:"filter"`
}

// StreamURL returns the WebSocket URL for the run.
func (c InstrumentConfig) StreamURL() string {
	if c.URL != "" {
		return c.URL
	}
	return connection.BuildURL(c.Host, c.Port, c.Path, c.Filter)
}

// ConnectionConfig holds WebSocket client settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	FrameBuffer      int           `yaml:"frame_buffer"`
}

// Framing policies.
const (
	FramingSkip  = "skip"  // Log, count and drop the malformed frame
	FramingAbort = "abort" // Stop the run with an error
)

// AcquisitionConfig controls the ingest loop and shutdown.
type AcquisitionConfig struct {
	MaxCount         int           `yaml:"max_count"` // 0 = unlimited
	FramingPolicy    string        `yaml:"framing_policy"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// OutputConfig holds the CSV destination.
type OutputConfig struct {
	Path string `yaml:"path"` // "-" writes to stdout
}

// Visualization publishers.
const (
	PublisherHistogram = "histogram"
	PublisherProcess   = "process"
	PublisherNATS      = "nats"
)

// VisualizationConfig holds live visualization settings.
type VisualizationConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Publisher string   `yaml:"publisher"`
	BatchSize int      `yaml:"batch_size"`
	Min       uint64   `yaml:"min"`
	Max       uint64   `yaml:"max"`
	Bins      int      `yaml:"bins"`
	Command   string   `yaml:"command"` // Renderer executable (process publisher)
	Args      []string `yaml:"args"`
	NATSURL   string   `yaml:"nats_url"`
	Subject   string   `yaml:"subject"`
}

// DatabaseConfig holds the optional event database.
type DatabaseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBConfig      `yaml:",inline"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the HTTP status server settings.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
