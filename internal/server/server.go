package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core/engine"
	"github.com/namelens/ratelane/internal/core/store"
	apperrors "github.com/namelens/ratelane/internal/errors"
	"github.com/namelens/ratelane/internal/observability"
	"github.com/namelens/ratelane/internal/server/handlers"
	servermw "github.com/namelens/ratelane/internal/server/middleware"
)

// DefaultAPIPrefix is where the scheduler proxy is mounted.
const DefaultAPIPrefix = "/api"

// activeManager is the scheduler behind the most recently built server; the
// metrics endpoint samples its registry sizes.
var activeManager atomic.Pointer[engine.Manager]

func currentManager() *engine.Manager {
	return activeManager.Load()
}

// Options configures the HTTP server.
type Options struct {
	Server    config.ServerConfig
	APIPrefix string
	Manager   *engine.Manager
	Store     store.BucketStore
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	opts    Options
	manager *engine.Manager
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if strings.TrimSpace(opts.APIPrefix) == "" {
		opts.APIPrefix = DefaultAPIPrefix
	}
	opts.APIPrefix = "/" + strings.Trim(opts.APIPrefix, "/")

	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:  r,
		opts:    opts,
		manager: opts.Manager,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	if opts.Manager != nil {
		activeManager.Store(opts.Manager)
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.Addr()
	cfg := s.opts.Server

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 120*time.Second),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", addr),
			zap.String("api_prefix", s.opts.APIPrefix))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.opts.Server.Host, s.opts.Server.Port)
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Server.Port
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
