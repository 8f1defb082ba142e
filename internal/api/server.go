// Package api exposes the HTTP REST surface: account management,
// document upload, retrieval-augmented query (plain and SSE streaming),
// chat sessions, precision settings, and health probes.
//
// File structure:
//   - server.go: server setup, routing, lifecycle
//   - middleware.go: recovery, request ID, logging, CORS, bearer auth
//   - ratelimit.go: per-IP token bucket limiting
//   - response.go: JSON response helpers
//   - sse.go: Server-Sent Events writer
//   - auth.go, upload.go, query.go, sessions.go, precision.go,
//     files.go, health.go: endpoint handlers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/chat"
	"github.com/hirakuhq/hiraku/internal/config"
	"github.com/hirakuhq/hiraku/internal/knowledge"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/rag"
)

const (
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 30 * time.Second

	// readHeaderTimeout guards against Slowloris-style clients.
	readHeaderTimeout = 10 * time.Second

	// readTimeout covers the whole request body, uploads included.
	readTimeout = 30 * time.Second

	// writeTimeout must outlast a full streamed generation.
	writeTimeout = 2 * time.Minute

	// idleTimeout closes keep-alive connections between requests.
	idleTimeout = 2 * time.Minute
)

// Deps collects everything the server needs.
type Deps struct {
	Pool      *pgxpool.Pool
	Users     *auth.Store
	Tokens    *auth.TokenManager
	Chats     *chat.Store
	Knowledge *knowledge.Store
	Engine    *rag.Engine
	Indexer   *rag.Indexer
	Logger    log.Logger
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	cfg    *config.Config
	tokens *auth.TokenManager
	logger log.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Pool == nil || deps.Users == nil || deps.Tokens == nil ||
		deps.Chats == nil || deps.Knowledge == nil || deps.Engine == nil || deps.Indexer == nil {
		return nil, errors.New("all dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	mux := http.NewServeMux()
	NewHealthHandler(deps.Pool, logger).RegisterRoutes(mux)
	NewAuthHandler(deps.Users, deps.Tokens, logger).RegisterRoutes(mux)
	NewUploadHandler(deps.Indexer, cfg.UploadDir, cfg.MaxUploadBytes, logger).RegisterRoutes(mux)
	NewQueryHandler(deps.Engine, deps.Users, deps.Chats, logger).RegisterRoutes(mux)
	NewSessionHandler(deps.Chats, logger).RegisterRoutes(mux)
	NewPrecisionHandler(deps.Users, logger).RegisterRoutes(mux)
	NewFilesHandler(deps.Knowledge, cfg.UploadDir, logger).RegisterRoutes(mux)

	return &Server{mux: mux, cfg: cfg, tokens: deps.Tokens, logger: logger}, nil
}

// Handler returns the route mux wrapped in the middleware stack.
// Order: recovery → request ID → logging → CORS → rate limit → auth.
// stop ends the rate limiter's cleanup goroutine.
func (s *Server) Handler(stop <-chan struct{}) http.Handler {
	limiter := newIPLimiter(s.cfg.RateBurst, s.cfg.TrustProxy, s.logger, stop)

	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
		corsMiddleware(s.cfg.CORSOrigins),
		limiter.middleware,
		authMiddleware(s.tokens, s.logger),
	)
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(stop),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
