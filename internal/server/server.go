// Package server provides the HTTP server for the SignBridge recognition service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/health"
	"github.com/ayusman/signbridge/internal/observe"
	"github.com/ayusman/signbridge/internal/server/api"
	"github.com/ayusman/signbridge/internal/session"
	"github.com/ayusman/signbridge/internal/store"
)

// StreamPath is where clients open the recognition WebSocket.
const StreamPath = "/ws"

// Config holds the server configuration.
type Config struct {
	StaticDir      string
	ReadLimitBytes int64
	AllowedOrigins []string

	Store    *store.Store
	Sessions *session.Manager
	Health   *health.Handler
	Metrics  *observe.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server represents the HTTP server for the SignBridge application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger
	start   time.Time
	srv     *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		logger: logger.With("component", "server"),
		start:  time.Now(),
	}
	s.setupRoutes()

	s.handler = s.mux
	if config.Metrics != nil {
		s.handler = observe.Middleware(config.Metrics, logger)(s.mux)
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/vocabulary", s.handleVocabulary)

	if s.config.Health != nil {
		s.config.Health.Register(s.mux)
	}
	if s.config.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.config.MetricsHandler)
	}
	if s.config.Sessions != nil {
		s.mux.Handle("GET "+StreamPath, NewStreamHandler(
			s.config.Sessions, s.config.ReadLimitBytes, s.config.AllowedOrigins, s.config.Logger))
	}
	if s.config.Store != nil {
		api.NewSignsHandler(s.config.Store, s.config.Logger).Register(s.mux)
		api.NewTranscriptHandler(s.config.Store).Register(s.mux)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	} else {
		s.mux.HandleFunc("GET /{$}", s.handleVocabulary)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Sessions != nil {
		response["sessions"] = s.config.Sessions.Len()
	}
	writeJSON(w, http.StatusOK, response)
}

type vocabularyResponse struct {
	Message   string   `json:"message"`
	Keywords  []string `json:"keywords"`
	WebSocket string   `json:"websocket"`
}

// handleVocabulary lists the recognised keywords and where to stream frames.
func (s *Server) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, vocabularyResponse{
		Message:   "SignBridge recognition service",
		Keywords:  classify.Keywords(),
		WebSocket: StreamPath,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Upgraded WebSocket connections are not tracked here; close their sessions
// through the session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
