package cmd

import (
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Encrypted payload relay for ClawPulse clients",
	Long: `syncrelay stores opaque, client-encrypted payloads under a hashed token
and hands them back to whoever presents the same token.

Payloads expire 48 hours after their last upload by default. The server never
sees plaintext and never stores the raw token.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve installs the real telemetry system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/syncrelay/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	v := viper.GetViper()
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to bind environment", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		} else if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		case cfgFile != "":
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", err)
		default:
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
		return
	}
	observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
}

// loadConfig decodes and validates the layered configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
