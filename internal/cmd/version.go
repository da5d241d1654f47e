package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, runtime and storage driver versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
		if !extended {
			return nil
		}

		deps := handlers.DependencyVersions()
		_, _ = fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "Go: %s (%s/%s)\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		_, _ = fmt.Fprintf(out, "Gofulmen: %s\n", deps.Gofulmen)
		_, _ = fmt.Fprintf(out, "libsql: %s\n", deps.Libsql)
		_, _ = fmt.Fprintf(out, "sqlite: %s\n", deps.SQLite)
		_, _ = fmt.Fprintf(out, "pgx: %s\n", deps.Pgx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
