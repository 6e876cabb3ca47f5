package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort             = 8080
	DefaultPath             = "/websocket"
	DefaultBlockSize        = 12
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultFrameBuffer      = 1024
	DefaultFramingPolicy    = FramingSkip
	DefaultDrainTimeout     = 30 * time.Second
	DefaultQueueCapacity    = 4096
	DefaultProgressInterval = 10 * time.Second
	DefaultOutputPath       = "-"
	DefaultPublisher        = PublisherHistogram
	DefaultVisBatchSize     = 1000
	DefaultHistogramMax     = 16384
	DefaultHistogramBins    = 1024
	DefaultSubject          = "mbfilter.events"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultDBBatchSize      = 1000
	DefaultDBFlushInterval  = 1 * time.Second
	DefaultStatusPort       = 9090
	DefaultLogLevel         = "info"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Instrument defaults
	if c.Instrument.Port == 0 {
		c.Instrument.Port = DefaultPort
	}
	if c.Instrument.Path == "" {
		c.Instrument.Path = DefaultPath
	}
	if c.Instrument.BlockSize == 0 {
		c.Instrument.BlockSize = DefaultBlockSize
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.FrameBuffer == 0 {
		c.Connection.FrameBuffer = DefaultFrameBuffer
	}

	// Acquisition defaults
	if c.Acquisition.FramingPolicy == "" {
		c.Acquisition.FramingPolicy = DefaultFramingPolicy
	}
	if c.Acquisition.DrainTimeout == 0 {
		c.Acquisition.DrainTimeout = DefaultDrainTimeout
	}
	if c.Acquisition.QueueCapacity == 0 {
		c.Acquisition.QueueCapacity = DefaultQueueCapacity
	}
	if c.Acquisition.ProgressInterval == 0 {
		c.Acquisition.ProgressInterval = DefaultProgressInterval
	}

	// Output defaults
	if c.Output.Path == "" {
		c.Output.Path = DefaultOutputPath
	}

	// Visualization defaults
	if c.Visualization.Publisher == "" {
		c.Visualization.Publisher = DefaultPublisher
	}
	if c.Visualization.BatchSize == 0 {
		c.Visualization.BatchSize = DefaultVisBatchSize
	}
	if c.Visualization.Max == 0 {
		c.Visualization.Max = DefaultHistogramMax
	}
	if c.Visualization.Bins == 0 {
		c.Visualization.Bins = DefaultHistogramBins
	}
	if c.Visualization.Subject == "" {
		c.Visualization.Subject = DefaultSubject
	}

	// Database defaults
	applyDBDefaults(&c.Database.DBConfig)
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = DefaultDBBatchSize
	}
	if c.Database.FlushInterval == 0 {
		c.Database.FlushInterval = DefaultDBFlushInterval
	}

	// Status defaults
	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
