package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawpulse/syncrelay/internal/core/engine"
	"github.com/clawpulse/syncrelay/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show payload store statistics",
	Long:  "Show record counts, stored bytes and how many expired payloads are waiting for the sweeper. Tokens and payloads are never printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		outPath, err := cmd.Flags().GetString("out")
		if err != nil {
			return err
		}

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

		now := time.Now().UTC()
		expiry := &engine.Expiry{TTL: cfg.Relay.TTL()}
		stats, err := db.Stats(ctx, expiry.Cutoff(now))
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatReport(&output.StoreReport{
			Driver:      db.Driver(),
			TTL:         cfg.Relay.TTL().String(),
			GeneratedAt: now,
			Stats:       stats,
		})
		if err != nil {
			return err
		}

		sink, err := openSink(outPath, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	statsCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}
