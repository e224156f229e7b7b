package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kiosk <command>",
	Short: "Single-site web kiosk shell with interstitial ad gating",
	Long: `kiosk drives one Chromium page at a fixed site, gates first paint behind
an interstitial ad (with a cooldown), keeps a bottom banner injected, watches
connectivity, and maps the back control to page history or an exit prompt.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/kiosk/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
