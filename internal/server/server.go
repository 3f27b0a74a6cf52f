// Package server exposes the read-only HTTP surface: health probes,
// version, and run history.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quartzci/quartz/internal/config"
	apperrors "github.com/quartzci/quartz/internal/errors"
	"github.com/quartzci/quartz/internal/server/handlers"
	"github.com/quartzci/quartz/internal/server/middleware"
	"github.com/quartzci/quartz/pkg/runstore"
)

// Server hosts the quartz HTTP endpoints.
type Server struct {
	host    string
	port    int
	version string
	logger  *zap.Logger
	store   *runstore.Store
	router  chi.Router

	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithRunStore enables the /runs endpoints backed by the given store.
func WithRunStore(store *runstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithVersion sets the version reported by /version.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeouts applies the server timeouts from configuration.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) {
		s.readTimeout = cfg.ReadTimeout
		s.writeTimeout = cfg.WriteTimeout
		s.idleTimeout = cfg.IdleTimeout
		s.shutdownTimeout = cfg.ShutdownTimeout
	}
}

// New builds a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:            host,
		port:            port,
		version:         "dev",
		logger:          zap.NewNop(),
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		idleTimeout:     120 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the HTTP handler for the full route tree.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteErrorDetail(w, http.StatusNotFound, apperrors.HTTPErrorDetail{
			Code:      apperrors.CodeNotFound,
			Message:   "no route for " + req.URL.Path,
			RequestID: middleware.RequestIDFrom(req.Context()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteErrorDetail(w, http.StatusMethodNotAllowed, apperrors.HTTPErrorDetail{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   req.Method + " not allowed on " + req.URL.Path,
			RequestID: middleware.RequestIDFrom(req.Context()),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", s.versionHandler)

	if s.store != nil {
		rh := handlers.NewRunsHandler(s.store, s.logger)
		r.Get("/runs", rh.List)
		r.Get("/runs/{runID}", rh.Get)
	}

	return r
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"name":"quartz","version":%q}`+"\n", s.version)
}
