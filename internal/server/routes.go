package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/observability"
	"github.com/clawpulse/syncrelay/internal/server/handlers"
)

// AdminTokenEnv enables POST /admin/signal when set.
const AdminTokenEnv = "SYNCRELAY_ADMIN_TOKEN"

func (s *Server) registerRoutes(sync *handlers.SyncHandler) {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// In server package to access HandleError
	s.router.Get("/metrics", MetricsHandler)

	if sync != nil {
		sync.Routes(s.router)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the signal endpoint when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv(AdminTokenEnv)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + AdminTokenEnv + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil,
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
