package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/events"
)

type fakeProvider struct {
	mu        sync.Mutex
	initErr   error
	loadErr   error
	creative  *ads.Creative
	blockLoad bool // block LoadInterstitial until ctx is done
	loadCalls int
}

func (f *fakeProvider) Init(ctx context.Context) error { return f.initErr }

func (f *fakeProvider) LoadInterstitial(ctx context.Context) (*ads.Creative, error) {
	f.mu.Lock()
	f.loadCalls++
	f.mu.Unlock()
	if f.blockLoad {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.creative, nil
}

func (f *fakeProvider) LoadBanner(ctx context.Context) (*ads.Creative, error) {
	return nil, ads.ErrNoFill
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls
}

type fakePresenter struct {
	mu    sync.Mutex
	shown []*ads.Creative
	err   error
}

func (f *fakePresenter) Present(ctx context.Context, c *ads.Creative) error {
	f.mu.Lock()
	f.shown = append(f.shown, c)
	f.mu.Unlock()
	return f.err
}

func (f *fakePresenter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
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

func testCreative() *ads.Creative {
	return &ads.Creative{ID: "cr-1", UnitID: "unit-int", Kind: ads.KindInterstitial, HTML: "<div>ad</div>"}
}

func waitOutcome(t *testing.T, g *Gate) Outcome {
	t.Helper()
	select {
	case o := <-g.Resolved():
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("gate never resolved")
		return ""
	}
}

func TestRun_ShowsWhenNeverShown(t *testing.T) {
	provider := &fakeProvider{creative: testCreative()}
	presenter := &fakePresenter{}
	bus := &recordingBus{}
	session := NewSession(5 * time.Minute)
	g := New(Options{Session: session, Provider: provider, Presenter: presenter, Bus: bus})

	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeClosed {
		t.Fatalf("outcome = %q, want closed", got)
	}
	if presenter.count() != 1 {
		t.Errorf("presenter called %d times, want 1", presenter.count())
	}
	if session.CanShow(time.Now()) {
		t.Error("session should be inside cooldown right after a show")
	}
	for _, topic := range []string{events.TopicAdLoaded, events.TopicAdShown, events.TopicAdClosed} {
		if !bus.has(topic) {
			t.Errorf("bus missing %s", topic)
		}
	}
	if g.State() != StateResolved {
		t.Errorf("state = %v, want resolved", g.State())
	}
}

func TestRun_PreloadsNextInterstitialAfterClose(t *testing.T) {
	provider := &fakeProvider{creative: testCreative()}
	g := New(Options{Provider: provider, Presenter: &fakePresenter{}})

	go g.Run(context.Background())
	waitOutcome(t, g)

	deadline := time.Now().Add(time.Second)
	for provider.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("load calls = %d, want 2 (show + preload)", provider.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_SkipsWithinCooldown(t *testing.T) {
	provider := &fakeProvider{creative: testCreative()}
	presenter := &fakePresenter{}
	bus := &recordingBus{}
	session := NewSession(5 * time.Minute)
	session.MarkShown(time.Now()) // fresh show, cooldown active

	g := New(Options{Session: session, Provider: provider, Presenter: presenter, Bus: bus})
	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeSkipped {
		t.Fatalf("outcome = %q, want skipped", got)
	}
	if presenter.count() != 0 {
		t.Error("presenter must not be called inside the cooldown")
	}
	if !bus.has(events.TopicAdSkipped) {
		t.Error("bus missing ad.skipped")
	}
	if bus.has(events.TopicAdShown) {
		t.Error("no impression may be published on a skip")
	}
}

func TestRun_ShowsAgainAfterCooldownElapsed(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := NewSession(5 * time.Minute)
	session.MarkShown(base)

	presenter := &fakePresenter{}
	g := New(Options{
		Session:   session,
		Provider:  &fakeProvider{creative: testCreative()},
		Presenter: presenter,
		Now:       func() time.Time { return base.Add(5 * time.Minute) }, // boundary: exactly the cooldown
	})
	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeClosed {
		t.Fatalf("outcome = %q, want closed at the cooldown boundary", got)
	}
	if presenter.count() != 1 {
		t.Errorf("presenter called %d times, want 1", presenter.count())
	}
}

func TestRun_InitFailureResolvesFailed(t *testing.T) {
	g := New(Options{
		Provider:  &fakeProvider{initErr: errors.New("sdk unavailable")},
		Presenter: &fakePresenter{},
	})
	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", got)
	}
}

func TestRun_LoadFailureResolvesFailed(t *testing.T) {
	bus := &recordingBus{}
	g := New(Options{
		Provider:  &fakeProvider{loadErr: errors.New("no fill")},
		Presenter: &fakePresenter{},
		Bus:       bus,
	})
	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", got)
	}
	if !bus.has(events.TopicAdFailed) {
		t.Error("bus missing ad.failed")
	}
}

func TestRun_LoadTimeoutResolvesTimedOut(t *testing.T) {
	g := New(Options{
		Provider:    &fakeProvider{blockLoad: true},
		Presenter:   &fakePresenter{},
		LoadTimeout: 20 * time.Millisecond,
	})
	go g.Run(context.Background())

	if got := waitOutcome(t, g); got != OutcomeTimedOut {
		t.Fatalf("outcome = %q, want timed_out", got)
	}
}

func TestRun_ResolvesExactlyOnce(t *testing.T) {
	g := New(Options{Provider: &fakeProvider{creative: testCreative()}, Presenter: &fakePresenter{}})
	go g.Run(context.Background())
	waitOutcome(t, g)

	// Even with the run fully finished there must be no second signal.
	select {
	case o := <-g.Resolved():
		t.Fatalf("unexpected second resolution: %q", o)
	case <-time.After(50 * time.Millisecond):
	}
}
