// Command mbemulator serves a synthetic MBFilter event stream for local
// runs of mbclient.
//
//	mbemulator -addr :8080 -mode binary -per-frame 64 -interval 10ms
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/decode"
	"github.com/rickgao/mbfilter/internal/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	mode := flag.String("mode", ModeBinary, "frame encoding: binary or text")
	perFrame := flag.Int("per-frame", 16, "events per binary frame")
	interval := flag.Duration("interval", 10*time.Millisecond, "pause between frames")
	count := flag.Int("count", 0, "events per connection before closing (0 = endless)")
	blockSize := flag.Int("block-size", decode.DefaultBlockSize, "bytes per binary event")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *mode != ModeBinary && *mode != ModeText {
		fmt.Fprintf(os.Stderr, "mbemulator: unknown mode %q\n", *mode)
		os.Exit(2)
	}
	decoder, err := decode.New(decode.Config{BlockSize: *blockSize})
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbemulator:", err)
		os.Exit(2)
	}

	em := newEmulator(emulatorConfig{
		Mode:     *mode,
		Interval: *interval,
		PerFrame: *perFrame,
		Count:    *count,
		Seed:     *seed,
	}, decoder, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(connection.DefaultPath, em)
	r.Handle("/", em)

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting emulator",
			"version", version.Version,
			"addr", *addr,
			"mode", *mode,
			"block_size", *blockSize,
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("emulator server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
