// Package status serves run health, Prometheus metrics and the live
// histogram over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/mbfilter/internal/histogram"
	"github.com/rickgao/mbfilter/internal/pipeline"
)

// StatsSource reports the live run.
type StatsSource interface {
	Stats() pipeline.Stats
}

// HistogramSource exposes the live histogram.
type HistogramSource interface {
	Snapshot() histogram.Snapshot
}

// Pinger checks a dependency, such as the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources are the data behind the endpoints. Only Stats is required.
type Sources struct {
	Stats     StatsSource
	Histogram HistogramSource
	Database  Pinger
	Gatherer  prometheus.Gatherer
}

type handler struct {
	src    Sources
	logger *slog.Logger
}

// NewHandler builds the router.
func NewHandler(src Sources, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{src: src, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/histogram", h.handleHistogram)
	if src.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(src.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type healthResponse struct {
	Status     string         `json:"status"`
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Events     int64          `json:"events"`
	Frames     int64          `json:"frames"`
	Framing    int64          `json:"framing_errors"`
	Queues     map[string]int `json:"queues"`
	Components map[string]any `json:"components,omitempty"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.src.Stats.Stats()

	resp := healthResponse{
		Status:  "healthy",
		RunID:   stats.RunID.String(),
		State:   stats.State.String(),
		Reason:  string(stats.Reason),
		Events:  stats.Events,
		Frames:  stats.Frames,
		Framing: stats.FramingErrors,
		Queues:  make(map[string]int, len(stats.Fanout.Queues)),
	}
	for name, q := range stats.Fanout.Queues {
		resp.Queues[name] = q.Count
	}
	if stats.State != pipeline.StateRunning {
		resp.Status = "stopping"
	}

	if h.src.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp.Components = make(map[string]any)
		if err := h.src.Database.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			resp.Components["database"] = "connected"
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *handler) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if h.src.Histogram == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "histogram renderer not enabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.src.Histogram.Snapshot())
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Debug("write status response", "error", err)
	}
}

// Server runs the status handler on a port.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on port.
func NewServer(port int, src Sources, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           NewHandler(src, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting status server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
