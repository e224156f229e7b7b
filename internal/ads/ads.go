// Package ads is the kiosk's client surface for the remote ad server.
//
// The ad network itself (auction, pacing, creative hosting) is an external
// system; this package only requests creatives for the kiosk's two fixed
// placements and reports what it got. Every request carries the
// non-personalized flag — the kiosk never sends user signals.
package ads

import (
	"context"
	"time"
)

// Placement kinds understood by the ad server.
const (
	KindInterstitial = "interstitial"
	KindBanner       = "banner"
)

// Creative is a renderable ad returned by the server.
type Creative struct {
	ID       string        `json:"id"`
	UnitID   string        `json:"unit_id"`
	Kind     string        `json:"kind"`
	HTML     string        `json:"html"`
	ClickURL string        `json:"click_url,omitempty"`
	Duration time.Duration `json:"-"` // interstitial display window
}

// Provider loads creatives for the kiosk's placements.
//
// All methods are non-fatal at the call site: the shell logs failures and
// keeps going, with the ad gate's timeout covering a provider that never
// answers.
type Provider interface {
	// Init performs any provider handshake. Must be called once before loads.
	Init(ctx context.Context) error
	// LoadInterstitial requests a full-screen creative for the interstitial unit.
	LoadInterstitial(ctx context.Context) (*Creative, error)
	// LoadBanner requests a creative for the bottom banner unit.
	LoadBanner(ctx context.Context) (*Creative, error)
	Close() error
}

// Disabled is a Provider used when no ad server is configured. Loads fail
// immediately, which resolves the ad gate straight to content.
type Disabled struct{}

func (Disabled) Init(ctx context.Context) error { return nil }

func (Disabled) LoadInterstitial(ctx context.Context) (*Creative, error) {
	return nil, ErrNoFill
}

func (Disabled) LoadBanner(ctx context.Context) (*Creative, error) {
	return nil, ErrNoFill
}

func (Disabled) Close() error { return nil }
