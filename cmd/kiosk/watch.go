package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/groblegark/kiosk/internal/config"
	"github.com/groblegark/kiosk/internal/events"
	"github.com/groblegark/kiosk/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var (
	watchNATSURL string
	watchJSON    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream kiosk lifecycle events from the bus",
	Long: `watch subscribes to "kiosk.>" on NATS and prints every event the shell
emits: connectivity changes, ad lifecycle, page loads, session open/exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL := watchNATSURL
		if natsURL == "" {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			natsURL = cfg.NATSURL
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL configured (set nats_url or pass --nats-url)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe("kiosk.>")
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer cancel()

		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case m, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(m)
			}
		}
	},
}

func printEvent(m events.Message) {
	if watchJSON {
		out, _ := json.Marshal(map[string]any{
			"topic": m.Topic,
			"event": json.RawMessage(m.Data),
		})
		fmt.Println(string(out))
		return
	}
	ts := time.Now().Format("15:04:05")
	fmt.Printf("%s %s %s\n", ui.RenderMuted(ts), ui.RenderAccent(m.Topic), m.Data)
}

func init() {
	watchCmd.Flags().StringVar(&watchNATSURL, "nats-url", "", "NATS server URL (default from config)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print events as JSON lines")
}
