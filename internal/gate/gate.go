// Package gate decides when the kiosk's content becomes visible.
//
// On every launch the gate tries to load one interstitial creative. If the
// cooldown since the previous show has elapsed it presents the creative and
// holds content back until dismissal; otherwise it lets content through
// immediately. A load failure or timeout also lets content through — an ad
// that never arrives must not brick the kiosk. Whatever path is taken, the
// gate resolves exactly once per session.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/kiosk/internal/ads"
	"github.com/groblegark/kiosk/internal/events"
	"github.com/groblegark/kiosk/internal/idgen"
)

// State is the gate's position in the interstitial lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoadedPendingShow
	StateShowing
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoadedPendingShow:
		return "loaded-pending-show"
	case StateShowing:
		return "showing"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Outcome is how a resolved gate let content through.
type Outcome string

const (
	OutcomeClosed   Outcome = "closed"    // interstitial shown and dismissed
	OutcomeSkipped  Outcome = "skipped"   // cooldown not elapsed, no ad shown
	OutcomeFailed   Outcome = "failed"    // provider init/load failed
	OutcomeTimedOut Outcome = "timed_out" // load exceeded the deadline
)

// Presenter displays an interstitial creative and returns when it has been
// dismissed (or its display window elapsed).
type Presenter interface {
	Present(ctx context.Context, c *ads.Creative) error
}

// Options configures a Gate. Zero fields get working defaults except
// Provider and Presenter, which are required.
type Options struct {
	Session     *Session
	Provider    ads.Provider
	Presenter   Presenter
	Bus         events.Publisher
	Logger      *slog.Logger
	LoadTimeout time.Duration
	Now         func() time.Time
}

// Gate runs the interstitial lifecycle for one launch and signals resolution.
type Gate struct {
	session     *Session
	provider    ads.Provider
	presenter   Presenter
	bus         events.Publisher
	logger      *slog.Logger
	loadTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	state   State
	outcome Outcome

	resolveOnce sync.Once
	resolved    chan Outcome
}

// New creates an unresolved gate.
func New(opts Options) *Gate {
	g := &Gate{
		session:     opts.Session,
		provider:    opts.Provider,
		presenter:   opts.Presenter,
		bus:         opts.Bus,
		logger:      opts.Logger,
		loadTimeout: opts.LoadTimeout,
		now:         opts.Now,
		state:       StateIdle,
		resolved:    make(chan Outcome, 1),
	}
	if g.session == nil {
		g.session = NewSession(5 * time.Minute)
	}
	if g.bus == nil {
		g.bus = &events.NoopPublisher{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.loadTimeout <= 0 {
		g.loadTimeout = 10 * time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Resolved delivers the gate's outcome exactly once.
func (g *Gate) Resolved() <-chan Outcome {
	return g.resolved
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Outcome returns the resolution outcome (empty until resolved).
func (g *Gate) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Run drives the gate to resolution: init the provider, load an
// interstitial under the timeout, then show or skip per the cooldown.
// Intended to run on its own goroutine; the shell waits on Resolved().
func (g *Gate) Run(ctx context.Context) {
	g.setState(StateLoading)

	if err := g.provider.Init(ctx); err != nil {
		g.logger.Warn("gate: ad provider init failed", "err", err)
		g.publish(events.TopicAdFailed, events.AdFailed{Reason: err.Error()})
		g.resolve(OutcomeFailed)
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, g.loadTimeout)
	defer cancel()
	creative, err := g.provider.LoadInterstitial(loadCtx)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimedOut
		}
		g.logger.Warn("gate: interstitial load failed", "err", err, "outcome", outcome)
		g.publish(events.TopicAdFailed, events.AdFailed{Reason: err.Error()})
		g.resolve(outcome)
		return
	}

	g.onLoaded(ctx, creative)
}

func (g *Gate) onLoaded(ctx context.Context, c *ads.Creative) {
	g.setState(StateLoadedPendingShow)
	g.publish(events.TopicAdLoaded, events.AdLoaded{UnitID: c.UnitID, CreativeID: c.ID})

	now := g.now()
	if !g.session.CanShow(now) {
		g.logger.Info("gate: cooldown active, skipping interstitial",
			"remaining", g.session.Remaining(now))
		g.publish(events.TopicAdSkipped, events.AdSkipped{
			UnitID:            c.UnitID,
			CooldownRemaining: g.session.Remaining(now).String(),
		})
		g.resolve(OutcomeSkipped)
		return
	}

	g.session.MarkShown(now)
	g.setState(StateShowing)

	impressionID, err := idgen.NewImpressionID()
	if err != nil {
		g.logger.Warn("gate: impression id", "err", err)
	}
	g.publish(events.TopicAdShown, events.AdShown{
		ImpressionID: impressionID,
		UnitID:       c.UnitID,
		CreativeID:   c.ID,
		ShownAt:      now,
	})

	if err := g.presenter.Present(ctx, c); err != nil {
		g.logger.Warn("gate: interstitial presentation failed", "err", err)
	}
	g.publish(events.TopicAdClosed, events.AdClosed{
		CreativeID: c.ID,
		ShownFor:   g.now().Sub(now).String(),
	})
	g.resolve(OutcomeClosed)

	// Opportunistically preload the next interstitial. Nothing waits on this.
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.loadTimeout)
		defer cancel()
		if _, err := g.provider.LoadInterstitial(pctx); err != nil {
			g.logger.Debug("gate: next-interstitial preload failed", "err", err)
		}
	}()
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// resolve records the outcome and signals it. Safe to call more than once;
// only the first call wins.
func (g *Gate) resolve(o Outcome) {
	g.resolveOnce.Do(func() {
		g.mu.Lock()
		g.state = StateResolved
		g.outcome = o
		g.mu.Unlock()
		g.resolved <- o
		g.logger.Info("gate: resolved", "outcome", o)
	})
}

func (g *Gate) publish(topic string, event any) {
	if err := g.bus.Publish(context.Background(), topic, event); err != nil {
		g.logger.Warn("gate: publishing event", "topic", topic, "err", err)
	}
}
