package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/psmyrdek/autodrive/internal/auth"
)

// Options configures the HTTP listener and the CORS allow-list. An empty
// AllowedOrigins disables CORS handling entirely.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	predictor      PredictorPort
	hub            StreamPort
	auditLog       AuditPort
	authMiddleware *auth.Middleware
	startTime      time.Time
	opts           Options
}

// NewServer creates a new API server. hub and auditLog may be nil; auth is
// controlled by the middleware (a nil-verifier middleware disables it).
func NewServer(predictor PredictorPort, hub StreamPort, auditLog AuditPort, authMiddleware *auth.Middleware, opts Options) *Server {
	return &Server{
		predictor:      predictor,
		hub:            hub,
		auditLog:       auditLog,
		authMiddleware: authMiddleware,
		startTime:      time.Now(),
		opts:           opts,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// withCORS handles the cross-origin contract for the browser-based
// simulator: echo the origin when it is on the allow-list and answer
// preflight OPTIONS before auth runs.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	if len(s.opts.AllowedOrigins) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
