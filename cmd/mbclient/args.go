package main

import (
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rickgao/mbfilter/internal/config"
)

const usage = `usage: mbclient [flags] [K L M peakthresh deadtime IP output]

Connects to an MBFilter instrument, records every measured event to a CSV
file and optionally feeds a live histogram. Type 'stop' to end the run.

Flags:
`

// options holds command-line overrides. Only flags that were set on the
// command line are applied over the config file.
type options struct {
	configPath string
	logLevel   string

	host      string
	port      int
	output    string
	maxCount  int
	framing   string
	visualize bool
	publisher string
	status    bool
	version   bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("mbclient", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", "", "path to config file (optional)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&opts.host, "host", "", "instrument host")
	fs.IntVar(&opts.port, "port", 0, "instrument port")
	fs.StringVar(&opts.output, "output", "", "CSV output path, - for stdout")
	fs.IntVar(&opts.maxCount, "max-count", 0, "stop after this many events (0 = unlimited)")
	fs.StringVar(&opts.framing, "framing-policy", "", "malformed frames: skip or abort")
	fs.BoolVar(&opts.visualize, "visualize", false, "enable live visualization")
	fs.StringVar(&opts.publisher, "publisher", "", "visualization publisher: histogram, process or nats")
	fs.BoolVar(&opts.status, "status", false, "serve /health, /metrics and /histogram")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	return fs
}

// loadConfig parses args, loads the config file and applies overrides.
// The returned config is validated.
func loadConfig(args []string) (*config.Config, *options, error) {
	opts := &options{}
	fs := newFlagSet(opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.version {
		return nil, opts, nil
	}

	cfg, err := config.LoadWithDefaults(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, opts, set)

	if err := applyPositional(cfg, fs.Args()); err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, opts, nil
}

func applyFlags(cfg *config.Config, opts *options, set map[string]bool) {
	if set["log-level"] {
		cfg.Log.Level = opts.logLevel
	}
	if set["host"] {
		cfg.Instrument.Host = opts.host
	}
	if set["port"] {
		cfg.Instrument.Port = opts.port
	}
	if set["output"] {
		cfg.Output.Path = opts.output
	}
	if set["max-count"] {
		cfg.Acquisition.MaxCount = opts.maxCount
	}
	if set["framing-policy"] {
		cfg.Acquisition.FramingPolicy = opts.framing
	}
	if set["visualize"] {
		cfg.Visualization.Enabled = opts.visualize
	}
	if set["publisher"] {
		cfg.Visualization.Publisher = opts.publisher
	}
	if set["status"] {
		cfg.Status.Enabled = opts.status
	}
}

// applyPositional accepts "K L M peakthresh deadtime IP output", the
// legacy command-line order. No arguments is also valid.
func applyPositional(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) != 7 {
		return fmt.Errorf("expected 7 positional arguments (K L M peakthresh deadtime IP output), got %d", len(args))
	}

	names := []string{"K", "L", "M", "peakthresh", "deadtime"}
	values := make([]int, len(names))
	for i, name := range names {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return fmt.Errorf("argument %s: %q is not an integer", name, args[i])
		}
		values[i] = v
	}

	cfg.Instrument.Filter.K = values[0]
	cfg.Instrument.Filter.L = values[1]
	cfg.Instrument.Filter.M = values[2]
	cfg.Instrument.Filter.PeakThreshold = values[3]
	cfg.Instrument.Filter.DeadTime = values[4]
	cfg.Instrument.Host = args[5]
	cfg.Instrument.URL = ""
	cfg.Output.Path = args[6]
	return nil
}

// parseLevel maps a config level name to a slog level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
