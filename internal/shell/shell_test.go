package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/browser"
	"github.com/groblegark/kiosk/internal/config"
	"github.com/groblegark/kiosk/internal/connectivity"
	"github.com/groblegark/kiosk/internal/events"
	"github.com/groblegark/kiosk/internal/gate"
)

// --- fakes ---

type fakeBrowser struct {
	mu          sync.Mutex
	events      chan browser.Event
	navigations []string
	reloads     int
	backs       int
	overlays    int
	overlayUp   bool
	banners     []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{events: make(chan browser.Event, 32)}
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) {
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	f.mu.Unlock()
}

func (f *fakeBrowser) Reload(ctx context.Context) {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
}

func (f *fakeBrowser) Back(ctx context.Context) {
	f.mu.Lock()
	f.backs++
	f.mu.Unlock()
}

func (f *fakeBrowser) CanGoBack() bool { return false }

func (f *fakeBrowser) ShowOverlay(ctx context.Context, html string) error {
	f.mu.Lock()
	f.overlays++
	f.overlayUp = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) ClearOverlay(ctx context.Context) error {
	f.mu.Lock()
	f.overlayUp = false
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) InjectBanner(ctx context.Context, html string) error {
	f.mu.Lock()
	f.banners = append(f.banners, html)
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Events() <-chan browser.Event { return f.events }
func (f *fakeBrowser) Close() error                 { return nil }

func (f *fakeBrowser) emit(e browser.Event) { f.events <- e }

func (f *fakeBrowser) navCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.navigations)
}

func (f *fakeBrowser) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

func (f *fakeBrowser) backCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backs
}

func (f *fakeBrowser) overlayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlays
}

func (f *fakeBrowser) bannerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.banners)
}

type fakeConn struct {
	mu          sync.Mutex
	online      bool
	probeOnline bool
	ch          chan connectivity.Status
	cancelled   bool
}

func newFakeConn(online bool) *fakeConn {
	return &fakeConn{online: online, probeOnline: online, ch: make(chan connectivity.Status, 8)}
}

func (f *fakeConn) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConn) Subscribe() (<-chan connectivity.Status, func()) {
	return f.ch, func() {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
	}
}

func (f *fakeConn) ForceProbe(ctx context.Context) connectivity.Status {
	f.mu.Lock()
	f.online = f.probeOnline
	st := connectivity.Status{Online: f.online, CheckedAt: time.Now()}
	f.mu.Unlock()
	return st
}

// push simulates a monitor verdict change.
func (f *fakeConn) push(online bool) {
	f.mu.Lock()
	f.online = online
	f.probeOnline = online
	f.mu.Unlock()
	f.ch <- connectivity.Status{Online: online, CheckedAt: time.Now()}
}

type stubAds struct {
	creative   *ads.Creative
	loadErr    error
	bannerHTML string
	bannerErr  error
}

func (s *stubAds) Init(ctx context.Context) error { return nil }

func (s *stubAds) LoadInterstitial(ctx context.Context) (*ads.Creative, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.creative, nil
}

func (s *stubAds) LoadBanner(ctx context.Context) (*ads.Creative, error) {
	if s.bannerErr != nil {
		return nil, s.bannerErr
	}
	return &ads.Creative{ID: "cr-b", Kind: ads.KindBanner, HTML: s.bannerHTML}, nil
}

func (s *stubAds) Close() error { return nil }

type fakeView struct {
	mu    sync.Mutex
	calls []string
}

func (v *fakeView) record(s string) {
	v.mu.Lock()
	v.calls = append(v.calls, s)
	v.mu.Unlock()
}

func (v *fakeView) Gated()                    { v.record("gated") }
func (v *fakeView) Loading(string)            { v.record("loading") }
func (v *fakeView) Ready(string, bool)        { v.record("ready") }
func (v *fakeView) LoadError(string)          { v.record("error") }
func (v *fakeView) Offline()                  { v.record("offline") }
func (v *fakeView) Exiting()                  { v.record("exiting") }

func (v *fakeView) has(s string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.calls {
		if c == s {
			return true
		}
	}
	return false
}

type fakePrompt struct {
	mu     sync.Mutex
	answer bool
	calls  int
}

func (p *fakePrompt) ConfirmExit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.answer
}

func (p *fakePrompt) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePrompt) setAnswer(a bool) {
	p.mu.Lock()
	p.answer = a
	p.mu.Unlock()
}

type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(ctx context.Context, topic string, event any) error {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) has(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// --- fixture ---

type fixture struct {
	sh      *Shell
	browser *fakeBrowser
	conn    *fakeConn
	view    *fakeView
	prompt  *fakePrompt
	bus     *recordingBus
	back    chan struct{}
	refresh chan struct{}
	done    chan error
	cancel  context.CancelFunc
}

type fixtureOpts struct {
	online      bool
	adsProvider ads.Provider
	session     *gate.Session
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.StartURL = "https://kiosk.test"
	cfg.AdLoadTimeout = time.Second
	cfg.RefreshWindow = 60 * time.Millisecond
	cfg.StateDir = t.TempDir()
	return cfg
}

// skippedSession returns a session whose cooldown is active, so the gate
// resolves "skipped" without any presentation.
func skippedSession() *gate.Session {
	s := gate.NewSession(5 * time.Minute)
	s.MarkShown(time.Now())
	return s
}

func start(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()

	f := &fixture{
		browser: newFakeBrowser(),
		conn:    newFakeConn(fo.online),
		view:    &fakeView{},
		prompt:  &fakePrompt{},
		bus:     &recordingBus{},
		back:    make(chan struct{}, 4),
		refresh: make(chan struct{}, 4),
		done:    make(chan error, 1),
	}

	provider := fo.adsProvider
	if provider == nil {
		provider = &stubAds{loadErr: ads.ErrNoFill, bannerErr: ads.ErrNoFill}
	}

	sh, err := New(Options{
		Config:       testConfig(t),
		Browser:      f.browser,
		Ads:          provider,
		Connectivity: f.conn,
		Bus:          f.bus,
		Back:         f.back,
		Refresh:      f.refresh,
		Prompt:       f.prompt,
		View:         f.view,
		Session:      fo.session,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sh = sh

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go func() { f.done <- sh.Run(ctx) }()
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fixture) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("shell never exited")
		return nil
	}
}

// --- tests ---

func TestSkippedGate_RevealsContentOnce(t *testing.T) {
	f := start(t, fixtureOpts{
		online:      true,
		adsProvider: &stubAds{creative: &ads.Creative{ID: "cr-1", UnitID: "u", HTML: "<p>ad</p>"}, bannerErr: ads.ErrNoFill},
		session:     skippedSession(),
	})

	waitFor(t, "content navigation", func() bool { return f.browser.navCount() == 1 })
	if !f.sh.Visible() {
		t.Error("content should be visible after gate resolution")
	}
	if f.browser.overlayCount() != 0 {
		t.Error("no interstitial may be presented inside the cooldown")
	}
	if got := f.sh.Screen(); got != ScreenLoading {
		t.Errorf("screen = %v, want loading", got)
	}

	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "ready screen", func() bool { return f.sh.Screen() == ScreenReady })
	if !f.view.has("ready") {
		t.Error("view never showed ready")
	}
	if !f.bus.has(events.TopicAdSkipped) || !f.bus.has(events.TopicShellReady) {
		t.Error("bus missing ad.skipped / shell.ready")
	}
}

func TestOfflineAtReveal_RendersOfflineScreen(t *testing.T) {
	f := start(t, fixtureOpts{online: false, session: skippedSession()})

	waitFor(t, "offline screen", func() bool { return f.sh.Screen() == ScreenOffline })
	if f.browser.navCount() != 0 {
		t.Error("embedded browser must not load while offline")
	}
	if !f.view.has("offline") {
		t.Error("view never showed offline notice")
	}
}

func TestBackPress_NavigatesInPageWhenHistoryExists(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	f.browser.emit(browser.Event{Kind: browser.EventNavChanged, CanGoBack: true})
	waitFor(t, "canGoBack", func() bool { return f.sh.CanGoBack() })

	f.back <- struct{}{}
	waitFor(t, "in-page back", func() bool { return f.browser.backCount() == 1 })
	if f.prompt.callCount() != 0 {
		t.Error("exit prompt must not appear when the page can go back")
	}
}

func TestBackPress_PromptsWhenNoHistory(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "ready", func() bool { return f.sh.Screen() == ScreenReady })

	// Declined prompt keeps the shell alive.
	f.back <- struct{}{}
	waitFor(t, "prompt", func() bool { return f.prompt.callCount() == 1 })
	if f.browser.backCount() != 0 {
		t.Error("browser back must not fire without history")
	}
	select {
	case err := <-f.done:
		t.Fatalf("shell exited on declined prompt: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	// Confirmed prompt exits cleanly.
	f.prompt.setAnswer(true)
	f.back <- struct{}{}
	if err := f.waitExit(t); err != nil {
		t.Fatalf("Run returned %v, want nil on user exit", err)
	}
	if !f.bus.has(events.TopicShellExit) {
		t.Error("bus missing shell.exit")
	}
}

func TestRefresh_IsIdempotentWhileInFlight(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "ready", func() bool { return f.sh.Screen() == ScreenReady })

	f.refresh <- struct{}{}
	waitFor(t, "refresh start", func() bool { return f.sh.Refreshing() })
	f.refresh <- struct{}{}
	f.refresh <- struct{}{}

	waitFor(t, "single reload", func() bool { return f.browser.reloadCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := f.browser.reloadCount(); got != 1 {
		t.Fatalf("reloads = %d, want 1 while refresh in flight", got)
	}

	// Load completion clears the flag and allows the next refresh.
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "refresh cleared", func() bool { return !f.sh.Refreshing() })
	f.refresh <- struct{}{}
	waitFor(t, "second reload", func() bool { return f.browser.reloadCount() == 2 })
}

func TestRefresh_SafetyWindowClearsStuckFlag(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "ready", func() bool { return f.sh.Screen() == ScreenReady })

	f.refresh <- struct{}{}
	waitFor(t, "refresh start", func() bool { return f.sh.Refreshing() })
	// No load event arrives; the safety window must clear the flag.
	waitFor(t, "safety clear", func() bool { return !f.sh.Refreshing() })
}

func TestOffline_RetryReloadsWhenNetworkReturns(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })
	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test"})
	waitFor(t, "ready", func() bool { return f.sh.Screen() == ScreenReady })

	f.conn.push(false)
	waitFor(t, "offline screen", func() bool { return f.sh.Screen() == ScreenOffline })

	// Retry while still offline: probe says no, nothing reloads.
	f.conn.probeOnline = false
	f.refresh <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	if f.browser.navCount() != 1 {
		t.Fatal("retry must not reload while the probe still fails")
	}

	// Network back: retry reloads content.
	f.conn.probeOnline = true
	f.refresh <- struct{}{}
	waitFor(t, "reload after retry", func() bool { return f.browser.navCount() == 2 })
}

func TestOffline_AutoRecoversOnConnectivityEvent(t *testing.T) {
	f := start(t, fixtureOpts{online: false, session: skippedSession()})
	waitFor(t, "offline screen", func() bool { return f.sh.Screen() == ScreenOffline })

	f.conn.push(true)
	waitFor(t, "recovery navigation", func() bool { return f.browser.navCount() == 1 })
}

func TestLoadError_ShowsErrorNotOffline(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })

	f.browser.emit(browser.Event{Kind: browser.EventLoadError, URL: "https://kiosk.test", Err: "net::ERR_FAILED"})
	waitFor(t, "error screen", func() bool { return f.sh.Screen() == ScreenError })
	if f.view.has("offline") {
		t.Error("a browser error must not fabricate an offline screen")
	}
	if !f.bus.has(events.TopicPageFailed) {
		t.Error("bus missing page.failed")
	}
}

func TestEndToEnd_InterstitialThenContent(t *testing.T) {
	provider := &stubAds{
		creative:   &ads.Creative{ID: "cr-1", UnitID: "unit-int", HTML: "<p>interstitial</p>", Duration: 40 * time.Millisecond},
		bannerHTML: "<b>banner</b>",
	}
	f := start(t, fixtureOpts{online: true, adsProvider: provider})

	// Interstitial goes up; content stays hidden.
	waitFor(t, "overlay", func() bool { return f.browser.overlayCount() == 1 })
	if f.sh.Visible() {
		t.Error("content must stay hidden while the interstitial shows")
	}

	// Display window elapses, ad closes, content loads.
	waitFor(t, "content navigation", func() bool { return f.browser.navCount() == 1 })
	if !f.sh.Visible() {
		t.Error("content should be visible after the ad closed")
	}

	f.browser.emit(browser.Event{Kind: browser.EventLoadEnd, URL: "https://kiosk.test", Elapsed: 120 * time.Millisecond})
	waitFor(t, "ready", func() bool { return f.sh.Screen() == ScreenReady })

	// Banner arrives beneath the content.
	waitFor(t, "banner", func() bool { return f.browser.bannerCount() >= 1 })

	for _, topic := range []string{
		events.TopicAdLoaded, events.TopicAdShown, events.TopicAdClosed,
		events.TopicShellReady, events.TopicPageLoaded,
	} {
		if !f.bus.has(topic) {
			t.Errorf("bus missing %s", topic)
		}
	}
}

func TestBackDuringInterstitial_DismissesAd(t *testing.T) {
	provider := &stubAds{
		creative:   &ads.Creative{ID: "cr-1", UnitID: "unit-int", HTML: "<p>ad</p>", Duration: 10 * time.Second},
		bannerErr:  ads.ErrNoFill,
	}
	f := start(t, fixtureOpts{online: true, adsProvider: provider})

	waitFor(t, "overlay", func() bool { return f.browser.overlayCount() == 1 })
	f.back <- struct{}{}

	// Dismissal resolves the gate long before the 10s display window.
	waitFor(t, "content navigation", func() bool { return f.browser.navCount() == 1 })
	if f.prompt.callCount() != 0 {
		t.Error("back during the interstitial must dismiss the ad, not prompt for exit")
	}
}

func TestContextCancel_TearsDown(t *testing.T) {
	f := start(t, fixtureOpts{online: true, session: skippedSession()})
	waitFor(t, "navigation", func() bool { return f.browser.navCount() == 1 })

	f.cancel()
	if err := f.waitExit(t); err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	waitFor(t, "subscription release", func() bool {
		f.conn.mu.Lock()
		defer f.conn.mu.Unlock()
		return f.conn.cancelled
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("New must reject missing collaborators")
	}
}
