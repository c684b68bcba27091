// Package web serves the HTTP dashboard: a single-page console plus the
// JSON API the console and external callers use to drive the runtime.
package web

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/events"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/runtime"
)

//go:embed index.html
var indexHTML []byte

// Config holds dashboard server settings.
type Config struct {
	// Host to bind (default 127.0.0.1).
	Host string
	// Port to bind (default 8890).
	Port int
	// Token, when set, is required on non-loopback requests via the
	// x-nxclaw-token header or ?token= query parameter.
	Token string

	Logger *slog.Logger
}

// Deps are the subsystems the dashboard exposes.
type Deps struct {
	Runtime *runtime.Orchestrator
	Memory  *memory.Store
	Bus     *events.Bus
	Metrics *observability.Metrics

	// GetConfig returns the active configuration for /api/settings.
	GetConfig func() config.Config
	// ApplyConfig persists and live-applies an updated configuration.
	ApplyConfig func(config.Config) error
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8890
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()

	handler := s.authMiddleware(s.loggingMiddleware(s.mux))
	s.srv = &http.Server{
		Addr:              s.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)

	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/prompt", s.handlePrompt)

	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/archive", s.handleSessionArchive)

	s.mux.HandleFunc("/api/memory/stats", s.handleMemoryStats)
	s.mux.HandleFunc("/api/memory/recent", s.handleMemoryRecent)
	s.mux.HandleFunc("/api/memory/search", s.handleMemorySearch)
	s.mux.HandleFunc("/api/memory/note", s.handleMemoryNote)
	s.mux.HandleFunc("/api/memory/compact", s.handleMemoryCompact)
	s.mux.HandleFunc("/api/memory/sync", s.handleMemorySync)
	s.mux.HandleFunc("/api/memory/soul", s.handleMemorySoul)

	s.mux.HandleFunc("/api/events/recent", s.handleEventsRecent)
	s.mux.HandleFunc("/api/events/stream", s.handleEventsStream)

	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.metricsHandler())
	}
}

// metricsHandler refreshes the runtime gauges before each scrape.
func (s *Server) metricsHandler() http.Handler {
	inner := promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Runtime != nil {
			st := s.deps.Runtime.GetState(false)
			s.deps.Metrics.SetPressure(st.QueueDepth, len(st.Sessions))
			s.deps.Metrics.MemoryEntries.Set(float64(st.Memory.RawEntries))
		}
		inner.ServeHTTP(w, r)
	})
}

// Addr is the bind address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown; it blocks like ListenAndServe.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", s.Addr())
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
