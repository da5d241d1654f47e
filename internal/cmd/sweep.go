package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/core/engine"
	"github.com/clawpulse/syncrelay/internal/observability"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired payloads once",
	Long: `Delete every payload whose last upload is older than the configured TTL.

The running server sweeps on its own interval; use this from cron when the
server runs with sweep.enabled=false, or to reclaim space immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		expiry := &engine.Expiry{Store: db, TTL: cfg.Relay.TTL(), Logger: observability.CLILogger}
		lines := []string{"Expiry sweep", ""}

		if sweepDryRun {
			stats, err := db.Stats(ctx, expiry.Cutoff(time.Now()))
			if err != nil {
				return err
			}
			lines = append(lines,
				fmt.Sprintf("driver: %s", db.Driver()),
				fmt.Sprintf("ttl: %s", cfg.Relay.TTL()),
				fmt.Sprintf("would remove: %d of %d", stats.ExpiredPending, stats.Records))
			_, _ = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
			return nil
		}

		sweeper := &engine.Sweeper{Expiry: expiry, Logger: observability.CLILogger}
		result, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Sweep finished",
			zap.Int64("removed", result.Removed),
			zap.Duration("duration", result.Duration))

		lines = append(lines,
			fmt.Sprintf("driver: %s", db.Driver()),
			fmt.Sprintf("ttl: %s", cfg.Relay.TTL()),
			fmt.Sprintf("removed: %d", result.Removed),
			fmt.Sprintf("took: %s", result.Duration.Round(time.Millisecond)))
		_, _ = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report how many payloads would be removed without deleting")
}
