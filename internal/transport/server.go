// Package transport exposes the dashboard over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultPort            = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 5 * time.Minute // image reports fetch every slide
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	Logger          *slog.Logger
}

// DefaultServerConfig returns configuration with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            defaultPort,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		AllowedOrigins:  []string{"*"},
		Logger:          slog.Default(),
	}
}

// AuthHandler is the interface for the Google connect flow handlers.
type AuthHandler interface {
	HandleConnect(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
}

// Middleware wraps a handler.
type Middleware interface {
	Middleware(next http.HandlerFunc) http.HandlerFunc
}

// Server is the dashboard HTTP server.
type Server struct {
	config      ServerConfig
	httpServer  *http.Server
	mux         *http.ServeMux
	api         *API
	authHandler AuthHandler
	sessions    Middleware
	rateLimit   Middleware
	logger      *slog.Logger

	routesOnce sync.Once
	mu         sync.RWMutex
	running    bool
}

// NewServer creates a new dashboard server around api.
func NewServer(config ServerConfig, api *API) *Server {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaultIdleTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	return &Server{
		config: config,
		mux:    http.NewServeMux(),
		api:    api,
		logger: config.Logger,
	}
}

// SetAuthHandler sets the Google connect handler. It must be called before Handler or Start.
func (s *Server) SetAuthHandler(handler AuthHandler) {
	s.authHandler = handler
}

// SetSessionMiddleware sets the middleware that authenticates API calls.
func (s *Server) SetSessionMiddleware(middleware Middleware) {
	s.sessions = middleware
}

// SetRateLimitMiddleware sets the middleware that throttles login and registration.
func (s *Server) SetRateLimitMiddleware(middleware Middleware) {
	s.rateLimit = middleware
}

// Handler returns the root handler with every route registered.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.withMiddleware(s.mux.ServeHTTP)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/register", s.withRateLimit(s.api.HandleRegister))
	s.mux.HandleFunc("POST /api/login", s.withRateLimit(s.api.HandleLogin))
	s.mux.HandleFunc("POST /api/logout", s.withSession(s.api.HandleLogout))
	s.mux.HandleFunc("GET /api/me", s.withSession(s.api.HandleMe))

	s.mux.HandleFunc("GET /api/presentations", s.withSession(s.api.HandleListPresentations))
	s.mux.HandleFunc("POST /api/presentations", s.withSession(s.api.HandleSavePresentation))
	s.mux.HandleFunc("POST /api/presentations/check-updates", s.withSession(s.api.HandleCheckUpdates))
	s.mux.HandleFunc("DELETE /api/presentations/{id}", s.withSession(s.api.HandleDeletePresentation))
	s.mux.HandleFunc("POST /api/presentations/{id}/refresh", s.withSession(s.api.HandleRefreshPresentation))

	s.mux.HandleFunc("GET /api/users", s.withSession(s.api.HandleListUsers))
	s.mux.HandleFunc("PUT /api/users/{username}/role", s.withSession(s.api.HandleSetRole))
	s.mux.HandleFunc("GET /api/activities", s.withSession(s.api.HandleActivities))

	s.mux.HandleFunc("GET /api/report", s.withSession(s.api.HandleReport))

	s.mux.HandleFunc("GET /auth/google", s.withSession(s.handleConnect))
	s.mux.HandleFunc("GET /auth/google/callback", s.handleCallback)
	s.mux.HandleFunc("DELETE /auth/google", s.withSession(s.api.HandleDisconnectGoogle))
}

// withSession wraps a handler with session authentication.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	if s.sessions == nil {
		// handlers answer 401 when no user is in the context
		return next
	}
	return s.sessions.Middleware(next)
}

// withRateLimit wraps a handler with rate limiting.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.rateLimit == nil {
		return next
	}
	return s.rateLimit.Middleware(next)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.authHandler == nil {
		writeError(w, http.StatusServiceUnavailable, "google sign-in not configured")
		return
	}
	s.authHandler.HandleConnect(w, r)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.authHandler == nil {
		writeError(w, http.StatusServiceUnavailable, "google sign-in not configured")
		return
	}
	s.authHandler.HandleCallback(w, r)
}

// withMiddleware wraps a handler with logging and CORS.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}
}

// applyCORS applies CORS headers to the response.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed, wildcard := false, false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" {
			allowed, wildcard = true, true
			break
		}
		if strings.EqualFold(o, origin) {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Report-Failed-Slides, X-Report-Presentations")
	w.Header().Set("Access-Control-Max-Age", "86400")
	if !wildcard {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// handleHealth handles the /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Unlock()

	s.logger.Info("starting dashboard server",
		slog.Int("port", s.config.Port),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if !s.running || s.httpServer == nil {
		s.mu.Unlock()
		return nil
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("server shutdown complete")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.config.Port
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
