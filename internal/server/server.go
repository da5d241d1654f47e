package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/config"
	apperrors "github.com/clawpulse/syncrelay/internal/errors"
	"github.com/clawpulse/syncrelay/internal/observability"
	"github.com/clawpulse/syncrelay/internal/server/handlers"
	servermw "github.com/clawpulse/syncrelay/internal/server/middleware"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
}

// New creates the HTTP server. sync may be nil, in which case only the
// operational endpoints are mounted.
func New(cfg config.ServerConfig, sync *handlers.SyncHandler) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → CORS → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.CORS(cfg.CORSOrigins))
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    cfg,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes(sync)

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, defaultIdleTimeout),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.cfg.Port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
