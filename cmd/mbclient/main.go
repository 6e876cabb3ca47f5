package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/mbfilter/internal/config"
	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/control"
	"github.com/rickgao/mbfilter/internal/database"
	"github.com/rickgao/mbfilter/internal/decode"
	"github.com/rickgao/mbfilter/internal/histogram"
	"github.com/rickgao/mbfilter/internal/metrics"
	"github.com/rickgao/mbfilter/internal/pipeline"
	"github.com/rickgao/mbfilter/internal/sink"
	"github.com/rickgao/mbfilter/internal/status"
	"github.com/rickgao/mbfilter/internal/version"
	"github.com/rickgao/mbfilter/internal/visual"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, opts, err := loadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbclient:", err)
		return 2
	}
	if opts.version {
		fmt.Println(version.String())
		return 0
	}

	// Set up structured logging. Stdout is left to the operator terminal
	// and, with output "-", the CSV stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	runID := uuid.New()
	logger.Info("starting mbclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", opts.configPath,
		"run_id", runID,
	)
	logger.Info("configuration loaded",
		"url", cfg.Instrument.StreamURL(),
		"filter", cfg.Instrument.Filter.String(),
		"output", cfg.Output.Path,
	)

	// The operator terminal: prompt, progress and summary.
	var term io.Writer = os.Stdout
	if cfg.Output.Path == sink.StdoutPath {
		term = os.Stderr
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals. The first one stops the run in order, a
	// second one exits immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		sig = <-sigCh
		logger.Warn("received second signal, exiting", "signal", sig)
		os.Exit(1)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	decoder, err := decode.New(decode.Config{BlockSize: cfg.Instrument.BlockSize})
	if err != nil {
		logger.Error("invalid block layout", "error", err)
		return 1
	}

	client := connection.NewClient(connection.ClientConfig{
		URL:              cfg.Instrument.StreamURL(),
		UserAgent:        version.UserAgent(),
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		ReadTimeout:      cfg.Connection.ReadTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.PingTimeout,
		WriteTimeout:     connection.DefaultClientConfig().WriteTimeout,
		BufferSize:       cfg.Connection.FrameBuffer,
	}, logger.With("component", "connection"))

	// Sinks, in fanout registration order.
	fileSink, err := sink.NewFileSink(cfg.Output.Path, logger.With("component", "file_sink"), m)
	if err != nil {
		logger.Error("failed to open output", "error", err)
		return 1
	}
	sinks := []sink.Sink{fileSink}

	var renderer *visual.HistogramRenderer
	if cfg.Visualization.Enabled {
		// A child renderer must outlive the signal so it still receives
		// the final batch.
		pub, r, err := newPublisher(context.WithoutCancel(ctx), cfg.Visualization, runID, logger.With("component", "visual"))
		if err != nil {
			logger.Error("failed to start visualization", "error", err)
			return 1
		}
		renderer = r
		sinks = append(sinks, sink.NewVisualizationSink(pub, cfg.Visualization.Publisher,
			cfg.Visualization.BatchSize, logger.With("component", "visualization_sink"), m))
	}

	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.DBConfig)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			return 1
		}
		logger.Info("database connected")

		sinks = append(sinks, sink.NewDatabaseSink(sink.DatabaseConfig{
			RunID:         runID,
			BatchSize:     cfg.Database.BatchSize,
			FlushInterval: cfg.Database.FlushInterval,
		}, pool, logger.With("component", "database_sink"), m))
	}

	coord, err := pipeline.New(pipeline.Config{
		RunID:            runID,
		Filter:           cfg.Instrument.Filter,
		MaxCount:         int64(cfg.Acquisition.MaxCount),
		FramingPolicy:    cfg.Acquisition.FramingPolicy,
		DrainTimeout:     cfg.Acquisition.DrainTimeout,
		QueueCapacity:    cfg.Acquisition.QueueCapacity,
		ProgressInterval: cfg.Acquisition.ProgressInterval,
	}, pipeline.Deps{
		Client:  client,
		Decoder: decoder,
		Sinks:   sinks,
		Metrics: m,
		Logger:  logger.With("component", "pipeline"),
	})
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		return 1
	}

	if cfg.Status.Enabled {
		src := status.Sources{Stats: coord, Gatherer: registry}
		if renderer != nil {
			src.Histogram = renderer
		}
		if pool != nil {
			src.Database = pool
		}
		srv := status.NewServer(cfg.Status.Port, src, logger.With("component", "status"))
		srv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// The control reader is never joined: a blocked stdin read cannot be
	// interrupted.
	reader := control.NewReader(os.Stdin, term, func() { coord.Stop(pipeline.StopOperator) }, logger)
	go reader.Run(ctx)

	progressCtx, stopProgress := context.WithCancel(ctx)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		control.NewProgress(term, 0, coord.Events).Run(progressCtx)
	}()

	summary, runErr := coord.Run(ctx)

	stopProgress()
	<-progressDone

	if renderer != nil {
		fmt.Fprintln(term, "peak height histogram:")
		renderer.Snapshot().Render(term, 32, 50)
	}
	fmt.Fprintln(term, summary)

	if runErr != nil {
		logger.Error("acquisition failed", "error", runErr)
		return 1
	}
	logger.Info("mbclient stopped")
	return 0
}

// newPublisher builds the configured visualization publisher. The
// histogram renderer is also returned so it can be served and printed.
func newPublisher(ctx context.Context, cfg config.VisualizationConfig, runID uuid.UUID, logger *slog.Logger) (visual.Publisher, *visual.HistogramRenderer, error) {
	switch cfg.Publisher {
	case config.PublisherHistogram:
		hist, err := histogram.New(cfg.Min, cfg.Max, cfg.Bins)
		if err != nil {
			return nil, nil, err
		}
		r := visual.NewHistogramRenderer(hist, logger)
		return r, r, nil

	case config.PublisherProcess:
		p, err := visual.StartProcess(ctx, visual.ProcessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			RunID:   runID.String(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil

	case config.PublisherNATS:
		p, err := visual.ConnectNATS(visual.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.Subject,
			RunID:   runID.String(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown publisher %q", cfg.Publisher)
	}
}
