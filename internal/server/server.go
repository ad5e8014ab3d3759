// Package server exposes the command dispatcher over a loopback HTTP API.
// Every command rides one POST route; responses use a fixed envelope:
// 200 {"data":...}, 400 {"error":...}, 401 for missing keys, 408 on
// per-request timeout.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/dispatch"
)

// shutdownGrace bounds how long in-flight requests may run after Start's
// context is cancelled.
const shutdownGrace = 5 * time.Second

// apiKeyHeader is the preferred way to pass the key; a body field is
// accepted as fallback.
const apiKeyHeader = "X-API-Key"

// commandRequest is the POST body for /command/{name}.
type commandRequest struct {
	APIKey  string          `json:"api_key"`
	Payload json.RawMessage `json:"payload"`
}

// Server serves the dispatcher over HTTP.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func New(cfg Config, d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{cfg: cfg.normalize(), dispatcher: d, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", apiKeyHeader},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/docs", s.handleDocs)
	r.Post("/command/{name}", s.handleCommand)

	return r
}

// Start binds the configured address and runs the server until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.ListenHost, strconv.Itoa(s.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api server listen: %w", err)
	}

	return s.Serve(ctx, ln)
}

// Serve runs the server on an already-bound listener until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router()}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("api server listening",
		slog.String("addr", ln.Addr().String()),
		slog.Int("timeout_secs", s.cfg.TimeoutSecs),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": s.dispatcher.Commands()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// An empty body is allowed: key via header, no payload.
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "请求体不是有效的 JSON")

		return
	}

	apiKey := r.Header.Get(apiKeyHeader)
	if apiKey == "" {
		apiKey = req.APIKey
	}

	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, access.ErrMissingKey.Error())

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	result, err := s.dispatcher.Dispatch(ctx, name, apiKey, req.Payload)
	if err != nil {
		writeError(w, statusForError(err), messageForError(err))

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": result})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, access.ErrMissingKey):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func messageForError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "请求超时"
	}

	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
