package main

import (
	"os"

	"github.com/groblegark/kiosk/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the merged configuration (defaults, config file, environment) as TOML.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		return cfg.WriteTOML(os.Stdout)
	},
}
