package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instrument.URL == "" && c.Instrument.Host == "" {
		return errors.New("instrument.host is required")
	}
	if err := validatePort("instrument.port", c.Instrument.Port); err != nil {
		return err
	}
	if c.Instrument.BlockSize < 4 || c.Instrument.BlockSize%4 != 0 {
		return fmt.Errorf("instrument.block_size must be a positive multiple of 4, got %d", c.Instrument.BlockSize)
	}
	if c.Instrument.BlockSize > 32 {
		return fmt.Errorf("instrument.block_size must be <= 32 (8-byte fields), got %d", c.Instrument.BlockSize)
	}
	f := c.Instrument.Filter
	if f.K < 0 || f.L < 0 || f.M < 0 || f.PeakThreshold < 0 || f.DeadTime < 0 {
		return errors.New("instrument.filter values must be >= 0")
	}

	if c.Connection.FrameBuffer < 0 {
		return errors.New("connection.frame_buffer must be >= 0")
	}

	if c.Acquisition.MaxCount < 0 {
		return errors.New("acquisition.max_count must be >= 0")
	}
	switch c.Acquisition.FramingPolicy {
	case FramingSkip, FramingAbort:
	default:
		return fmt.Errorf("acquisition.framing_policy must be %q or %q, got %q", FramingSkip, FramingAbort, c.Acquisition.FramingPolicy)
	}
	if c.Acquisition.DrainTimeout <= 0 {
		return errors.New("acquisition.drain_timeout must be > 0")
	}
	if c.Acquisition.QueueCapacity < 1 {
		return errors.New("acquisition.queue_capacity must be >= 1")
	}

	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}

	if c.Visualization.Enabled {
		if err := c.Visualization.validate(); err != nil {
			return err
		}
	}

	if c.Database.Enabled {
		if err := c.Database.DBConfig.validate("database"); err != nil {
			return err
		}
		if c.Database.BatchSize < 1 {
			return errors.New("database.batch_size must be >= 1")
		}
	}

	if c.Status.Enabled {
		if err := validatePort("status.port", c.Status.Port); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	return nil
}

func (v *VisualizationConfig) validate() error {
	if v.BatchSize < 1 {
		return errors.New("visualization.batch_size must be >= 1")
	}
	if v.Bins < 1 {
		return errors.New("visualization.bins must be >= 1")
	}
	if v.Max <= v.Min {
		return fmt.Errorf("visualization.max (%d) must exceed min (%d)", v.Max, v.Min)
	}

	switch v.Publisher {
	case PublisherHistogram:
	case PublisherProcess:
		if v.Command == "" {
			return errors.New("visualization.command is required for the process publisher")
		}
	case PublisherNATS:
		if v.NATSURL == "" {
			return errors.New("visualization.nats_url is required for the nats publisher")
		}
		if v.Subject == "" {
			return errors.New("visualization.subject is required for the nats publisher")
		}
	default:
		return fmt.Errorf("visualization.publisher must be histogram, process or nats, got %q", v.Publisher)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
