// Package shell wires the kiosk together: one embedded browser page, an ad
// gate in front of it, a connectivity monitor beside it, and a back control
// that either walks page history or asks to exit.
//
// Everything runs as a single event loop. State is only mutated by loop
// reactions to channel events (gate resolution, connectivity updates, browser
// load results, key presses, the refresh safety timer), which keeps the
// ordering semantics of a UI thread without any cross-goroutine mutation.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/browser"
	"github.com/groblegark/kiosk/internal/config"
	"github.com/groblegark/kiosk/internal/connectivity"
	"github.com/groblegark/kiosk/internal/events"
	"github.com/groblegark/kiosk/internal/gate"
	"github.com/groblegark/kiosk/internal/idgen"
)

// Screen is what the kiosk is currently presenting.
type Screen int

const (
	ScreenGated   Screen = iota // ad gate unresolved, nothing rendered
	ScreenLoading               // content page loading
	ScreenReady                 // content page up
	ScreenError                 // content page failed to load (still online)
	ScreenOffline               // no connectivity, retry screen
)

func (s Screen) String() string {
	switch s {
	case ScreenGated:
		return "gated"
	case ScreenLoading:
		return "loading"
	case ScreenReady:
		return "ready"
	case ScreenError:
		return "error"
	case ScreenOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// View receives screen transitions. The terminal renderer implements it in
// production; tests use a recorder.
type View interface {
	Gated()
	Loading(url string)
	Ready(url string, canGoBack bool)
	LoadError(reason string)
	Offline()
	Exiting()
}

// ExitPrompter blocks on a yes/no exit confirmation.
type ExitPrompter interface {
	ConfirmExit() bool
}

// Options wires a Shell. Config, Browser, Ads, Connectivity, Prompt and View
// are required; the rest default.
type Options struct {
	Config       *config.Config
	Browser      browser.Browser
	Ads          ads.Provider
	Connectivity connectivity.Watcher
	Bus          events.Publisher
	Back         <-chan struct{}
	Refresh      <-chan struct{}
	Prompt       ExitPrompter
	View         View
	Logger       *slog.Logger
	Session      *gate.Session
}

// Shell runs one kiosk session.
type Shell struct {
	cfg    *config.Config
	br     browser.Browser
	ads    ads.Provider
	conn   connectivity.Watcher
	bus    events.Publisher
	backCh <-chan struct{}
	refCh  <-chan struct{}
	prompt ExitPrompter
	view   View
	logger *slog.Logger

	gate      *gate.Gate
	dismiss   chan struct{}
	sessionID string

	mu             sync.Mutex
	screen         Screen
	visible        bool
	online         bool
	canGoBack      bool
	refreshing     bool
	bannerHTML     string
	bannerFetching bool
}

// New validates the wiring and builds an unstarted shell.
func New(opts Options) (*Shell, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("shell: Config is required")
	case opts.Browser == nil:
		return nil, fmt.Errorf("shell: Browser is required")
	case opts.Ads == nil:
		return nil, fmt.Errorf("shell: Ads provider is required")
	case opts.Connectivity == nil:
		return nil, fmt.Errorf("shell: Connectivity watcher is required")
	case opts.Prompt == nil:
		return nil, fmt.Errorf("shell: Prompt is required")
	case opts.View == nil:
		return nil, fmt.Errorf("shell: View is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = &events.NoopPublisher{}
	}

	sessionID, err := idgen.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("shell: session id: %w", err)
	}

	s := &Shell{
		cfg:       opts.Config,
		br:        opts.Browser,
		ads:       opts.Ads,
		conn:      opts.Connectivity,
		bus:       bus,
		backCh:    opts.Back,
		refCh:     opts.Refresh,
		prompt:    opts.Prompt,
		view:      opts.View,
		logger:    logger,
		dismiss:   make(chan struct{}, 1),
		sessionID: sessionID,
		screen:    ScreenGated,
		online:    true,
	}

	session := opts.Session
	if session == nil {
		session = gate.NewSession(opts.Config.AdCooldown)
	}
	s.gate = gate.New(gate.Options{
		Session:  session,
		Provider: opts.Ads,
		Presenter: &overlayPresenter{
			br:      opts.Browser,
			dismiss: s.dismiss,
			logger:  logger,
		},
		Bus:         bus,
		Logger:      logger,
		LoadTimeout: opts.Config.AdLoadTimeout,
	})
	return s, nil
}

// SessionID returns the ID of this shell run.
func (s *Shell) SessionID() string { return s.sessionID }

// Run drives the shell until the user confirms exit or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	s.checkStateDir()

	connCh, connCancel := s.conn.Subscribe()
	defer connCancel()
	s.setOnline(s.conn.Online())

	go s.gate.Run(ctx)
	s.view.Gated()

	// Safety bound on the refreshing flag; armed only while a refresh is in
	// flight, and stopped on teardown by the deferred Stop.
	refreshTimer := time.NewTimer(time.Hour)
	if !refreshTimer.Stop() {
		<-refreshTimer.C
	}
	defer refreshTimer.Stop()

	brEvents := s.br.Events()

	for {
		select {
		case <-ctx.Done():
			s.publishExit("signal")
			return ctx.Err()

		case outcome := <-s.gate.Resolved():
			s.onGateResolved(ctx, outcome)

		case st, ok := <-connCh:
			if !ok {
				connCh = nil
				continue
			}
			s.onConnectivity(ctx, st)

		case e, ok := <-brEvents:
			if !ok {
				brEvents = nil
				continue
			}
			s.onBrowserEvent(ctx, e, refreshTimer)

		case <-s.backCh:
			if exit := s.onBack(ctx); exit {
				s.view.Exiting()
				s.publishExit("user")
				return nil
			}

		case <-s.refCh:
			s.onRefresh(ctx, refreshTimer)

		case <-refreshTimer.C:
			s.onRefreshWindowElapsed()
		}
	}
}

// onGateResolved flips content visibility — exactly once per session, since
// the gate resolves exactly once.
func (s *Shell) onGateResolved(ctx context.Context, outcome gate.Outcome) {
	s.mu.Lock()
	s.visible = true
	s.mu.Unlock()

	s.logger.Info("shell: content visible", "outcome", outcome)
	s.publish(events.TopicShellReady, events.ShellReady{
		SessionID: s.sessionID,
		URL:       s.cfg.StartURL,
		AdOutcome: string(outcome),
	})

	if s.Online() {
		s.navigateContent(ctx)
	} else {
		s.setScreen(ScreenOffline)
		s.view.Offline()
	}
}

func (s *Shell) onConnectivity(ctx context.Context, st connectivity.Status) {
	s.setOnline(st.Online)
	s.publish(events.TopicConnectivityChanged, events.ConnectivityChanged{
		Online:    st.Online,
		CheckedAt: st.CheckedAt,
		LatencyMs: st.Latency.Milliseconds(),
		Error:     st.Err,
	})

	if !s.Visible() {
		return
	}
	if !st.Online {
		if s.Screen() != ScreenOffline {
			s.setScreen(ScreenOffline)
			s.view.Offline()
		}
		return
	}
	// Back online: leave the offline screen and reload content.
	if s.Screen() == ScreenOffline {
		s.navigateContent(ctx)
	}
}

func (s *Shell) onBrowserEvent(ctx context.Context, e browser.Event, refreshTimer *time.Timer) {
	switch e.Kind {
	case browser.EventNavChanged:
		s.mu.Lock()
		s.canGoBack = e.CanGoBack
		s.mu.Unlock()

	case browser.EventLoadStart:
		if s.Visible() && s.Screen() != ScreenOffline {
			s.setScreen(ScreenLoading)
		}

	case browser.EventLoadEnd:
		wasRefresh := s.clearRefresh(refreshTimer)
		s.publish(events.TopicPageLoaded, events.PageLoaded{
			URL:       e.URL,
			ElapsedMs: e.Elapsed.Milliseconds(),
			Refresh:   wasRefresh,
		})
		// Connectivity owns the offline screen; a late load never unseats it.
		if s.Screen() == ScreenOffline {
			return
		}
		s.setScreen(ScreenReady)
		s.view.Ready(e.URL, s.CanGoBack())
		s.ensureBanner(ctx)

	case browser.EventLoadError:
		s.clearRefresh(refreshTimer)
		s.logger.Warn("shell: page load failed", "url", e.URL, "err", e.Err)
		s.publish(events.TopicPageFailed, events.PageFailed{URL: e.URL, Reason: e.Err})
		if s.Screen() == ScreenOffline {
			return
		}
		s.setScreen(ScreenError)
		s.view.LoadError(e.Err)
	}
}

// onBack routes a back press. Returns true when the user confirmed exit.
func (s *Shell) onBack(ctx context.Context) bool {
	if !s.Visible() {
		// While the interstitial is up, back dismisses it.
		if s.gate.State() == gate.StateShowing {
			select {
			case s.dismiss <- struct{}{}:
			default:
			}
			return false
		}
		return s.prompt.ConfirmExit()
	}
	if s.CanGoBack() && s.Screen() != ScreenOffline {
		s.br.Back(ctx)
		return false
	}
	return s.prompt.ConfirmExit()
}

func (s *Shell) onRefresh(ctx context.Context, refreshTimer *time.Timer) {
	if !s.Visible() {
		return
	}
	if s.Screen() == ScreenOffline || !s.Online() {
		// Manual retry: re-probe, and reload if the network came back.
		st := s.conn.ForceProbe(ctx)
		if st.Online {
			s.navigateContent(ctx)
		}
		return
	}
	s.mu.Lock()
	if s.refreshing {
		// Already refreshing; a second pull must not start another cycle.
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	s.setScreen(ScreenLoading)
	s.view.Loading(s.cfg.StartURL)
	s.br.Reload(ctx)
	refreshTimer.Reset(s.cfg.RefreshWindow)
}

func (s *Shell) onRefreshWindowElapsed() {
	s.mu.Lock()
	wasRefreshing := s.refreshing
	s.refreshing = false
	s.mu.Unlock()
	if wasRefreshing {
		s.logger.Warn("shell: refresh window elapsed before load completion")
	}
}

// clearRefresh drops the refreshing flag when a load completes and disarms
// the safety timer. Returns whether a refresh was in flight.
func (s *Shell) clearRefresh(refreshTimer *time.Timer) bool {
	s.mu.Lock()
	was := s.refreshing
	s.refreshing = false
	s.mu.Unlock()
	if was {
		if !refreshTimer.Stop() {
			select {
			case <-refreshTimer.C:
			default:
			}
		}
	}
	return was
}

func (s *Shell) navigateContent(ctx context.Context) {
	s.setScreen(ScreenLoading)
	s.view.Loading(s.cfg.StartURL)
	s.br.Navigate(ctx, s.cfg.StartURL)
}

// ensureBanner fetches the banner creative once and re-injects it after
// every completed page load. Failures are logged and retried on the next
// load; the content never waits on the banner.
func (s *Shell) ensureBanner(ctx context.Context) {
	s.mu.Lock()
	html := s.bannerHTML
	fetching := s.bannerFetching
	if html == "" && !fetching {
		s.bannerFetching = true
	}
	s.mu.Unlock()

	if html != "" {
		go func() {
			if err := s.br.InjectBanner(ctx, html); err != nil {
				s.logger.Warn("shell: banner injection", "err", err)
			}
		}()
		return
	}
	if fetching {
		return
	}
	go func() {
		c, err := s.ads.LoadBanner(ctx)
		s.mu.Lock()
		s.bannerFetching = false
		if err == nil {
			s.bannerHTML = c.HTML
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("shell: banner load failed", "err", err)
			return
		}
		if err := s.br.InjectBanner(ctx, c.HTML); err != nil {
			s.logger.Warn("shell: banner injection", "err", err)
		}
	}()
}

// checkStateDir verifies the state directory is writable. The outcome is
// logged only; the shell runs fine without it.
func (s *Shell) checkStateDir() {
	dir := s.cfg.StateDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.logger.Warn("shell: state dir unavailable", "dir", dir, "err", err)
		return
	}
	probe := filepath.Join(dir, ".write-check")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		s.logger.Warn("shell: state dir not writable", "dir", dir, "err", err)
		return
	}
	_ = os.Remove(probe)
	s.logger.Debug("shell: state dir ok", "dir", dir)
}

func (s *Shell) publishExit(reason string) {
	s.publish(events.TopicShellExit, events.ShellExit{SessionID: s.sessionID, Reason: reason})
}

func (s *Shell) publish(topic string, event any) {
	if err := s.bus.Publish(context.Background(), topic, event); err != nil {
		s.logger.Warn("shell: publishing event", "topic", topic, "err", err)
	}
}

// --- state accessors (loop writes, anyone may read) ---

func (s *Shell) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

func (s *Shell) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *Shell) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Shell) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canGoBack
}

func (s *Shell) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

func (s *Shell) setScreen(sc Screen) {
	s.mu.Lock()
	s.screen = sc
	s.mu.Unlock()
}

func (s *Shell) setOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}
