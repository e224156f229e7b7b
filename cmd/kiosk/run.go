package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/browser"
	"github.com/groblegark/kiosk/internal/config"
	"github.com/groblegark/kiosk/internal/connectivity"
	"github.com/groblegark/kiosk/internal/events"
	"github.com/groblegark/kiosk/internal/shell"
	"github.com/groblegark/kiosk/internal/ui"
	"github.com/spf13/cobra"
)

var runHeadless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch the kiosk shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("headless") {
			cfg.Headless = runHeadless
		}

		logger := newLogger()
		logger.Info("kiosk: starting", "url", cfg.StartURL, "headless", cfg.Headless)

		// Bus is optional; without NATS the shell still runs, just silently.
		var bus events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			p, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				logger.Warn("kiosk: event bus unavailable", "err", err)
			} else {
				bus = p
				defer p.Close()
			}
		}

		br, err := browser.NewRod(cfg.Headless, logger)
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		defer br.Close()

		var provider ads.Provider = ads.Disabled{}
		if cfg.AdServerURL != "" {
			provider = ads.NewHTTPProvider(cfg.AdServerURL, cfg.InterstitialUnit, cfg.BannerUnit)
		}
		defer provider.Close()

		monitor := connectivity.New(cfg.ProbeURL, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
		monitor.Start()
		defer monitor.Stop()

		keys := ui.NewKeyReader(os.Stdin, os.Stderr)
		if err := keys.Start(); err != nil {
			return err
		}
		defer keys.Stop()

		sh, err := shell.New(shell.Options{
			Config:       cfg,
			Browser:      br,
			Ads:          provider,
			Connectivity: monitor,
			Bus:          bus,
			Back:         keys.Back(),
			Refresh:      keys.Refresh(),
			Prompt:       keys,
			View:         ui.NewRenderer(os.Stdout),
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("kiosk: session open", "session", sh.SessionID())
		if err := sh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run Chromium headless (no visible window)")
}
