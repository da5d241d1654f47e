package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/core/engine"
	errwrap "github.com/clawpulse/syncrelay/internal/errors"
	"github.com/clawpulse/syncrelay/internal/metrics"
	"github.com/clawpulse/syncrelay/internal/observability"
	"github.com/clawpulse/syncrelay/internal/server"
	"github.com/clawpulse/syncrelay/internal/server/handlers"
	"github.com/clawpulse/syncrelay/internal/verifier"
)

const uptimeInterval = 30 * time.Second

// telemetryHealthChecker fails when metrics are enabled but not running.
type telemetryHealthChecker struct {
	enabled bool
}

func (t telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay HTTP server with graceful shutdown support.

Endpoints:
  POST   /sync          upload {"token", "payload"}
  GET    /sync/{token}  fetch the latest payload
  DELETE /sync/{token}  delete the payload
  GET    /health        liveness and store reachability

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file (restart to apply changes)

On shutdown the HTTP server drains first, then the sweeper stops and the
store closes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration is invalid")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			logger.Error("Failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			return errwrap.WrapStorage(ctx, err, "store initialization failed")
		}

		limiter := engine.NewRateLimiter(cfg.RateLimits)
		relay := engine.NewRelay(db, limiter, cfg.Relay.TTL(), cfg.Relay.MaxPayloadBytes)
		relay.MinTokenLength = cfg.Relay.MinTokenLength
		relay.Logger = logger
		relay.Expiry.Logger = logger

		sync := &handlers.SyncHandler{
			Relay:               relay,
			MaxPayloadBytes:     cfg.Relay.MaxPayloadBytes,
			TrustCFConnectingIP: cfg.Server.TrustCFConnectingIP,
		}

		if cfg.Verifier.Enabled {
			v, err := verifier.New(cfg.Verifier)
			if err != nil {
				_ = db.Close()
				return errwrap.WrapConfigInvalid(ctx, err, "platform token verifier is misconfigured")
			}
			relay.Verifier = v
			sync.AttestationHeader = cfg.Verifier.Header
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", db.Driver()),
			zap.Duration("ttl", cfg.Relay.TTL()),
			zap.Int64("max_payload_bytes", cfg.Relay.MaxPayloadBytes),
			zap.Bool("verifier", cfg.Verifier.Enabled),
			zap.Bool("metrics", cfg.Metrics.Enabled))

		handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", relay)
		hm.RegisterChecker("telemetry", telemetryHealthChecker{enabled: cfg.Metrics.Enabled})

		srv := server.New(cfg.Server, sync)

		runCtx, stopBackground := context.WithCancel(context.Background())
		background := make(chan struct{})
		var sweeper *engine.Sweeper
		if cfg.Sweep.Enabled {
			sweeper = &engine.Sweeper{
				Expiry:   relay.Expiry,
				Interval: cfg.Sweep.Interval,
				Limiter:  limiter,
				Logger:   logger,
			}
		}
		go func() {
			defer close(background)
			runBackground(runCtx, sweeper, logger)
		}()

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP, background work, metrics, store, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				return errwrap.WrapStorage(ctx, err, "store close failed")
			}
			logger.Info("Store closed")
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter shutdown failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopBackground()
			select {
			case <-background:
				logger.Info("Expiry sweeper stopped")
			case <-ctx.Done():
				logger.Warn("Expiry sweeper did not stop before shutdown deadline")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading config file")

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if _, err := loadConfig(); err != nil {
				logger.Warn("Reloaded config is invalid; keeping running settings", zap.Error(err))
				return nil
			}

			logger.Info("Configuration re-read; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopBackground()
			_ = db.Close()
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// runBackground drives the expiry sweeper and the uptime gauge until ctx is done.
func runBackground(ctx context.Context, sweeper *engine.Sweeper, logger *logging.Logger) {
	started := time.Now()
	metrics.SetServerStartTime(started.Unix())

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if sweeper == nil {
			return
		}
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("Expiry sweeper exited", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-sweepDone
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(started).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().Duration("sweep-interval", 5*time.Minute, "interval between expiry sweeps")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("sweep.interval", serveCmd.Flags().Lookup("sweep-interval"))
}
