// Package browser is the shell's contract with the embedded browser engine.
//
// The engine (Chromium over the DevTools protocol, driven by rod) is an
// external collaborator: this package exposes only the handful of operations
// the shell needs and reports load/navigation outcomes as events on a
// channel. Navigation operations are fire-and-forget; the result always
// arrives as an event.
package browser

import (
	"context"
	"time"
)

// EventKind classifies browser events.
type EventKind int

const (
	// EventLoadStart fires when a navigation or reload is dispatched.
	EventLoadStart EventKind = iota
	// EventLoadEnd fires when the page finished loading.
	EventLoadEnd
	// EventLoadError fires when a navigation failed.
	EventLoadError
	// EventNavChanged fires when the history position changed.
	EventNavChanged
)

func (k EventKind) String() string {
	switch k {
	case EventLoadStart:
		return "load-start"
	case EventLoadEnd:
		return "load-end"
	case EventLoadError:
		return "load-error"
	case EventNavChanged:
		return "nav-changed"
	default:
		return "unknown"
	}
}

// Event is a single browser notification.
type Event struct {
	Kind      EventKind
	URL       string
	Err       string
	CanGoBack bool // meaningful on EventNavChanged
	Elapsed   time.Duration
}

// Browser drives the single embedded page.
type Browser interface {
	// Navigate loads the given URL. Outcome arrives as a load event.
	Navigate(ctx context.Context, url string)
	// Reload reloads the current page. Outcome arrives as a load event.
	Reload(ctx context.Context)
	// Back navigates one step back in the page's history, if possible.
	Back(ctx context.Context)
	// CanGoBack reports whether the history stack has somewhere to go back to.
	CanGoBack() bool

	// ShowOverlay covers the page with a full-screen HTML overlay
	// (interstitial presentation). ClearOverlay removes it.
	ShowOverlay(ctx context.Context, html string) error
	ClearOverlay(ctx context.Context) error

	// InjectBanner pins an HTML snippet to the bottom of the page.
	InjectBanner(ctx context.Context, html string) error

	// Events delivers load and navigation notifications.
	Events() <-chan Event

	Close() error
}
