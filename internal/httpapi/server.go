// Package httpapi is the operator-facing admin surface: health, pipeline
// status, queue inspection, Prometheus metrics, and reload endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/platform"
)

// QueueView is the read-only display queue surface the API exposes.
type QueueView interface {
	QueueLength() int
	CurrentDisplayContent() *core.DisplayContent
}

// PlatformView exposes the registry snapshot.
type PlatformView interface {
	GetStatus() platform.StatusReport
}

// Reloader re-reads configuration or credentials on demand.
type Reloader interface {
	ReloadConfig() error
	ReloadTokens() error
}

type Server struct {
	httpServer *http.Server
	cfg        *config.Service
	queue      QueueView
	platforms  PlatformView
	reloader   Reloader
	logger     *slog.Logger
	limiter    *ipRateLimiter
}

type Options struct {
	Addr string
	// RateRPS/RateBurst enable per-IP rate limiting when both are positive.
	RateRPS   int
	RateBurst int
}

func New(cfg *config.Service, queue QueueView, platforms PlatformView, reloader Reloader, opts Options) *Server {
	srv := &Server{
		cfg:       cfg,
		queue:     queue,
		platforms: platforms,
		reloader:  reloader,
		logger:    slog.Default().With("component", "httpapi"),
		limiter:   newIPRateLimiter(opts.RateRPS, opts.RateBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/queue", srv.handleQueue)
	mux.HandleFunc("/config", srv.handleConfig)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/reload", srv.handleReload)
	mux.HandleFunc("/admin/tokens/reload", srv.handleTokenReload)

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.withMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type statusPayload struct {
		Platforms   platform.StatusReport `json:"platforms"`
		QueueLength int                   `json:"queueLength"`
		Time        time.Time             `json:"time"`
	}
	payload := statusPayload{
		QueueLength: s.queue.QueueLength(),
		Time:        time.Now().UTC(),
	}
	if s.platforms != nil {
		payload.Platforms = s.platforms.GetStatus()
	}
	writeJSON(w, payload)
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	type queuePayload struct {
		Length  int                  `json:"length"`
		Current *core.DisplayContent `json:"current"`
	}
	writeJSON(w, queuePayload{
		Length:  s.queue.QueueLength(),
		Current: s.queue.CurrentDisplayContent(),
	})
}

// handleConfig serves the redacted configuration summary. Secrets are masked
// before they reach the wire.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.cfg.Redacted())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reloader == nil {
		http.Error(w, "reload not supported", http.StatusNotImplemented)
		return
	}
	if err := s.reloader.ReloadConfig(); err != nil {
		http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"ok": "true"})
}

func (s *Server) handleTokenReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reloader == nil {
		http.Error(w, "reload not supported", http.StatusNotImplemented)
		return
	}
	if err := s.reloader.ReloadTokens(); err != nil {
		http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"ok": "true"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	s.logger.Info("admin api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the wrapped mux, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
