package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long:  "Print the merged defaults, config file, environment and flags as YAML. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		out := cmd.OutOrStdout()
		if file := viper.ConfigFileUsed(); file != "" {
			_, _ = fmt.Fprintf(out, "# source: %s\n", file)
		}
		_, err = out.Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
