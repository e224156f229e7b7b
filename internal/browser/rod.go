package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Rod drives a Chromium page over the DevTools protocol.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *slog.Logger

	events chan Event

	// opMu serializes page operations; the DevTools session handles one
	// navigation at a time.
	opMu sync.Mutex

	mu        sync.Mutex
	canGoBack bool
}

// NewRod launches a Chromium instance and opens a blank page.
func NewRod(headless bool, logger *slog.Logger) (*Rod, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().Headless(headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launching chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("browser: connecting: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("browser: opening page: %w", err)
	}

	return &Rod{
		launcher: l,
		browser:  b,
		page:     page,
		logger:   logger,
		events:   make(chan Event, 32),
	}, nil
}

func (r *Rod) Events() <-chan Event {
	return r.events
}

func (r *Rod) CanGoBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canGoBack
}

func (r *Rod) Navigate(ctx context.Context, url string) {
	r.emit(Event{Kind: EventLoadStart, URL: url})
	go func() {
		r.opMu.Lock()
		defer r.opMu.Unlock()

		start := time.Now()
		page := r.page.Context(ctx)
		err := page.Navigate(url)
		if err == nil {
			err = page.WaitLoad()
		}
		r.updateNav()
		if err != nil {
			r.emit(Event{Kind: EventLoadError, URL: url, Err: err.Error(), Elapsed: time.Since(start)})
			return
		}
		r.emit(Event{Kind: EventLoadEnd, URL: url, Elapsed: time.Since(start)})
	}()
}

func (r *Rod) Reload(ctx context.Context) {
	url := r.currentURL()
	r.emit(Event{Kind: EventLoadStart, URL: url})
	go func() {
		r.opMu.Lock()
		defer r.opMu.Unlock()

		start := time.Now()
		page := r.page.Context(ctx)
		err := page.Reload()
		if err == nil {
			err = page.WaitLoad()
		}
		r.updateNav()
		if err != nil {
			r.emit(Event{Kind: EventLoadError, URL: url, Err: err.Error(), Elapsed: time.Since(start)})
			return
		}
		r.emit(Event{Kind: EventLoadEnd, URL: url, Elapsed: time.Since(start)})
	}()
}

func (r *Rod) Back(ctx context.Context) {
	if !r.CanGoBack() {
		return
	}
	go func() {
		r.opMu.Lock()
		defer r.opMu.Unlock()

		start := time.Now()
		page := r.page.Context(ctx)
		err := page.NavigateBack()
		if err == nil {
			err = page.WaitLoad()
		}
		url := r.currentURL()
		r.updateNav()
		if err != nil {
			r.emit(Event{Kind: EventLoadError, URL: url, Err: err.Error(), Elapsed: time.Since(start)})
			return
		}
		r.emit(Event{Kind: EventLoadEnd, URL: url, Elapsed: time.Since(start)})
	}()
}

const showOverlayJS = `(html) => {
	let el = document.getElementById('kiosk-interstitial');
	if (!el) {
		el = document.createElement('div');
		el.id = 'kiosk-interstitial';
		el.style.cssText = 'position:fixed;inset:0;z-index:2147483647;background:#000;display:flex;align-items:center;justify-content:center;';
		document.documentElement.appendChild(el);
	}
	el.innerHTML = html;
}`

const clearOverlayJS = `() => {
	const el = document.getElementById('kiosk-interstitial');
	if (el) el.remove();
}`

const injectBannerJS = `(html) => {
	let el = document.getElementById('kiosk-banner');
	if (!el) {
		el = document.createElement('div');
		el.id = 'kiosk-banner';
		el.style.cssText = 'position:fixed;left:0;right:0;bottom:0;z-index:2147483646;text-align:center;';
		document.documentElement.appendChild(el);
	}
	el.innerHTML = html;
}`

func (r *Rod) ShowOverlay(ctx context.Context, html string) error {
	if _, err := r.page.Context(ctx).Eval(showOverlayJS, html); err != nil {
		return fmt.Errorf("browser: showing overlay: %w", err)
	}
	return nil
}

func (r *Rod) ClearOverlay(ctx context.Context) error {
	if _, err := r.page.Context(ctx).Eval(clearOverlayJS); err != nil {
		return fmt.Errorf("browser: clearing overlay: %w", err)
	}
	return nil
}

func (r *Rod) InjectBanner(ctx context.Context, html string) error {
	if _, err := r.page.Context(ctx).Eval(injectBannerJS, html); err != nil {
		return fmt.Errorf("browser: injecting banner: %w", err)
	}
	return nil
}

func (r *Rod) Close() error {
	err := r.browser.Close()
	r.launcher.Kill()
	return err
}

// updateNav refreshes canGoBack from the DevTools navigation history and
// emits a nav-changed event when it flipped.
func (r *Rod) updateNav() {
	res, err := proto.PageGetNavigationHistory{}.Call(r.page)
	if err != nil {
		r.logger.Debug("browser: navigation history", "err", err)
		return
	}
	can := res.CurrentIndex > 0
	if can && res.CurrentIndex == 1 {
		// The initial blank target does not count as history.
		if prev := res.Entries[0]; prev.URL == "about:blank" {
			can = false
		}
	}

	r.mu.Lock()
	changed := can != r.canGoBack
	r.canGoBack = can
	r.mu.Unlock()

	if changed {
		r.emit(Event{Kind: EventNavChanged, CanGoBack: can})
	}
}

func (r *Rod) currentURL() string {
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (r *Rod) emit(e Event) {
	select {
	case r.events <- e:
	default:
		// Drop the event if the shell is not keeping up.
		r.logger.Debug("browser: dropping event", "kind", e.Kind.String())
	}
}
