package events

import (
	"context"
	"time"
)

// Event topic constants. Everything the shell does is observable on the bus
// under the "kiosk." prefix; `kiosk watch` subscribes to "kiosk.>".
const (
	TopicConnectivityChanged = "kiosk.connectivity.changed"

	// Interstitial lifecycle
	TopicAdLoaded  = "kiosk.ad.loaded"
	TopicAdShown   = "kiosk.ad.shown"
	TopicAdSkipped = "kiosk.ad.skipped"
	TopicAdClosed  = "kiosk.ad.closed"
	TopicAdFailed  = "kiosk.ad.failed"

	// Content page lifecycle
	TopicPageLoaded = "kiosk.page.loaded"
	TopicPageFailed = "kiosk.page.failed"

	// Shell lifecycle
	TopicShellReady = "kiosk.shell.ready"
	TopicShellExit  = "kiosk.shell.exit"
)

// Event types

type ConnectivityChanged struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type AdLoaded struct {
	UnitID     string `json:"unit_id"`
	CreativeID string `json:"creative_id"`
}

// AdShown is the in-memory impression record. It is published, never stored.
type AdShown struct {
	ImpressionID string    `json:"impression_id"`
	UnitID       string    `json:"unit_id"`
	CreativeID   string    `json:"creative_id"`
	ShownAt      time.Time `json:"shown_at"`
}

type AdSkipped struct {
	UnitID            string `json:"unit_id"`
	CooldownRemaining string `json:"cooldown_remaining"`
}

type AdClosed struct {
	CreativeID string `json:"creative_id"`
	ShownFor   string `json:"shown_for"`
}

type AdFailed struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason"`
}

type PageLoaded struct {
	URL       string `json:"url"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Refresh   bool   `json:"refresh,omitempty"`
}

type PageFailed struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

type ShellReady struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	AdOutcome string `json:"ad_outcome"` // "closed", "skipped", "failed", "timed_out"
}

type ShellExit struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"` // "user", "signal"
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
