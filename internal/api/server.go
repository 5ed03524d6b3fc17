// Package api exposes the HTTP surface: health probes, the session
// read endpoints and the websocket chat endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// SessionReader is the read/rate surface the HTTP handlers need.
// *session.Store satisfies it.
type SessionReader interface {
	GetBySessionID(ctx context.Context, sessionID string) (*session.Session, error)
	RecentSessions(ctx context.Context, limit int) ([]*session.Session, error)
	SetRating(ctx context.Context, sessionID string, rating int, ratedAt time.Time) error
	Ping(ctx context.Context) error
}

// SummaryRegenerator re-runs summarization for an existing session.
// *finalize.Finalizer satisfies it.
type SummaryRegenerator interface {
	Regenerate(ctx context.Context, sessionID string) (session.Summary, error)
}

// ServerConfig contains the wiring for the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       SessionReader      // required
	Regenerator SummaryRegenerator // required
	Chat        ConnHandler        // required
	ModelName   string             // reported by /health
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Regenerator == nil {
		return nil, errors.New("summary regenerator is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat handler is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{
		store:       cfg.Store,
		regenerator: cfg.Regenerator,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session/{session_id}/summary", sh.getSummary)
	mux.HandleFunc("GET /api/sessions", sh.listSessions)
	mux.HandleFunc("POST /api/session/{session_id}/rate", sh.rate)
	mux.HandleFunc("POST /api/session/{session_id}/regenerate-summary", sh.regenerateSummary)

	// Middleware stack, outermost first: recovery, request id, logging.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	hh := &healthHandler{store: cfg.Store, model: cfg.ModelName}
	wh := &wsHandler{chat: cfg.Chat, logger: logger}

	// Health probes and the websocket upgrade bypass the middleware
	// stack. The upgrader needs the hijackable ResponseWriter.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", hh.health)
	topMux.HandleFunc("GET /ws/session/{session_id}", wh.serve)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
