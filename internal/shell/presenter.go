package shell

import (
	"context"
	"log/slog"
	"time"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/browser"
)

// defaultInterstitialWindow bounds creatives that declare no display duration.
const defaultInterstitialWindow = 15 * time.Second

// overlayPresenter renders an interstitial as a full-page browser overlay
// and blocks until the back control dismisses it or its display window
// elapses.
type overlayPresenter struct {
	br      browser.Browser
	dismiss <-chan struct{}
	logger  *slog.Logger
}

func (p *overlayPresenter) Present(ctx context.Context, c *ads.Creative) error {
	if err := p.br.ShowOverlay(ctx, c.HTML); err != nil {
		return err
	}
	defer func() {
		if err := p.br.ClearOverlay(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("presenter: clearing overlay", "err", err)
		}
	}()

	window := c.Duration
	if window <= 0 {
		window = defaultInterstitialWindow
	}
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.dismiss:
	case <-timer.C:
	}
	return nil
}
