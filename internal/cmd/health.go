package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/config"
	errwrap "github.com/clawpulse/syncrelay/internal/errors"
	"github.com/clawpulse/syncrelay/internal/observability"
	"github.com/clawpulse/syncrelay/internal/server/handlers"
	"github.com/clawpulse/syncrelay/internal/verifier"
)

const selfCheckTimeout = 10 * time.Second

type checkFunc func(ctx context.Context) error

func (f checkFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration loads, the store is reachable and migrated, and the platform token verifier (if enabled) can be built.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		cfg, err := loadConfig()
		if err != nil {
			logger.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration loaded", zap.String("store_driver", cfg.Store.Driver))

		ctx, cancel := context.WithTimeout(cmd.Context(), selfCheckTimeout)
		defer cancel()

		hm := handlers.NewHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", checkFunc(func(ctx context.Context) error {
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck // best-effort cleanup
			return db.Ping(ctx)
		}))
		hm.RegisterChecker("verifier", checkFunc(func(ctx context.Context) error {
			return checkVerifier(cfg.Verifier)
		}))

		status, checks := hm.Check(ctx)
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result := checks[name]
			if result == "healthy" {
				logger.Info(fmt.Sprintf("✅ %s", name))
			} else {
				logger.Error(fmt.Sprintf("❌ %s: %s", name, result))
			}
		}

		if status != "healthy" {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Health check failed", errwrap.NewServiceUnavailableError("health status "+status))
			return
		}

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func checkVerifier(cfg config.VerifierConfig) error {
	if !cfg.Enabled {
		return nil
	}
	_, err := verifier.New(cfg)
	return err
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
